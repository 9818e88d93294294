package models

import "time"

// Notification is a persisted user-facing message (shown in the client's
// notification list; also pushed over WS/FCM on a best-effort basis).
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int       `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
