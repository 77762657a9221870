package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest is a limit order ready for submission.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Price         float64
	Quantity      float64
	ClientOrderID string
}

// OrderResult is the exchange acknowledgement for one submitted order.
type OrderResult struct {
	OrderID       int64  `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Test          bool   `json:"test"`
}

// Order is one historical or live order from the account feed, kept in the
// bounded order history.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Price         float64
	OrigQty       float64
	ExecutedQty   float64
	Status        string
	UpdatedAt     time.Time
}
