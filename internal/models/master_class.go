package models

import "time"

// MasterClass is the workshop session an invoice pays for. Catalog CRUD lives
// elsewhere; the payment core only reads the event date and bumps paid seats.
type MasterClass struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	EventDate time.Time `json:"event_date"`
	SeatsPaid int       `json:"seats_paid"`
	CreatedAt time.Time `json:"created_at"`
}
