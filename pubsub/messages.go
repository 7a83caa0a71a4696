package pubsub

import "time"

// Quote is a top-of-book update.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Trade is a single execution.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      string    `json:"side,omitempty"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Bar is an OHLCV aggregate.
type Bar struct {
	Symbol   string        `json:"symbol"`
	Open     float64       `json:"open"`
	High     float64       `json:"high"`
	Low      float64       `json:"low"`
	Close    float64       `json:"close"`
	Volume   float64       `json:"volume"`
	Start    time.Time     `json:"start,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Level is one price level of a Book.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Book is an order book snapshot or delta.
type Book struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Snapshot  bool      `json:"snapshot,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
