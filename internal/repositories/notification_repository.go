package repositories

import (
	"context"
	"database/sql"
	"time"

	"masterskayaBack/internal/models"
)

// NotificationRepository persists user-facing messages. Delivery (WS, push)
// is best-effort on top of this row.
type NotificationRepository struct {
	DB *sql.DB
}

func (r *NotificationRepository) Create(ctx context.Context, userID int, title, body string) (models.Notification, error) {
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, body, created_at) VALUES (?, ?, ?, ?)
	`, userID, title, body, now)
	if err != nil {
		return models.Notification{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Notification{}, err
	}
	return models.Notification{ID: id, UserID: userID, Title: title, Body: body, CreatedAt: now}, nil
}

// DeviceToken returns the user's registered FCM token, empty if none.
func (r *NotificationRepository) DeviceToken(ctx context.Context, userID int) (string, error) {
	var token string
	err := r.DB.QueryRowContext(ctx, `
		SELECT token FROM fcm_tokens WHERE user_id = ? ORDER BY id DESC LIMIT 1
	`, userID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, err
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID, limit int) ([]models.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, title, body, created_at FROM notifications
		WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
