package model

import "time"

// PurchasedLimit overrides the static per-route rate limit for one
// requester (account or user id), route key and HTTP method.
type PurchasedLimit struct {
	Requester string    `json:"requester" db:"requester"`
	Route     string    `json:"route" db:"route"`
	Method    string    `json:"method" db:"method"`
	Limit     int64     `json:"limit" db:"limit_per_window"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
