package types

// OrderSubmissionResponse represents the response from POST /order.
// This is different from OrderQueryResponse (GET /data/order).
type OrderSubmissionResponse struct {
	Success      bool     `json:"success"`      // Server-side success indicator
	ErrorMsg     string   `json:"errorMsg"`     // Error message if success=false
	OrderID      string   `json:"orderId"`      // lowercase d on the wire
	OrderHashes  []string `json:"orderHashes"`  // Settlement transaction hashes
	Status       string   `json:"status"`       // matched, live, delayed, unmatched
	TakingAmount string   `json:"takingAmount"` // Amount being taken (as string)
	MakingAmount string   `json:"makingAmount"` // Amount being made (as string)
}

// SignedOrderJSON represents a signed order in the format expected by the CLOB API.
type SignedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"` // 6 decimals
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"` // "BUY" or "SELL"
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"` // 0=EOA, 1=POLY_PROXY, 2=GNOSIS_SAFE
	Signature     string `json:"signature"`
}

// OrderSubmissionRequest represents a single order submission wrapped with metadata.
type OrderSubmissionRequest struct {
	Order     SignedOrderJSON `json:"order"`
	Owner     string          `json:"owner"`     // API key (not maker address!)
	OrderType string          `json:"orderType"` // GTC, FOK, GTD, or FAK
}

// OrderQueryResponse represents the response from GET /data/order/{id}.
type OrderQueryResponse struct {
	OrderID    string  `json:"id"`
	Status     string  `json:"status"` // LIVE, MATCHED, CANCELED, ...
	TokenID    string  `json:"asset_id"`
	Price      float64 `json:"price,string"`
	Size       float64 `json:"original_size,string"`
	SizeFilled float64 `json:"size_matched,string"`
	Side       string  `json:"side"`
	OrderType  string  `json:"order_type"`
	Outcome    string  `json:"outcome"`
}

// BookResponse represents the response from GET /book.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Timestamp string       `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// CancelResponse represents the response from DELETE /order.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}
