package repositories

import (
	"context"
	"database/sql"
	"errors"

	"masterskayaBack/internal/models"
)

// MasterClassRepository gives the payment core its read/update slice of the
// master_classes table; full catalog CRUD lives outside this service.
type MasterClassRepository struct {
	DB *sql.DB
}

func (r *MasterClassRepository) GetByID(ctx context.Context, id int64) (models.MasterClass, error) {
	var mc models.MasterClass
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, title, event_date, seats_paid, created_at FROM master_classes WHERE id = ?
	`, id).Scan(&mc.ID, &mc.Title, &mc.EventDate, &mc.SeatsPaid, &mc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MasterClass{}, models.ErrMasterClassNotFound
	}
	return mc, err
}

// IncrementSeatsPaid bumps the paid-seat counter and returns the new value.
func (r *MasterClassRepository) IncrementSeatsPaid(ctx context.Context, id int64) (int, error) {
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE master_classes SET seats_paid = seats_paid + 1 WHERE id = ?
	`, id); err != nil {
		return 0, err
	}
	var seats int
	err := r.DB.QueryRowContext(ctx, `SELECT seats_paid FROM master_classes WHERE id = ?`, id).Scan(&seats)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrMasterClassNotFound
	}
	return seats, err
}
