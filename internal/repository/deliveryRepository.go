package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/logger"
)

type DeliveryRepo interface {
	Record(ctx context.Context, rec domain.DeliveryRecord) error
	GetByOrderKey(ctx context.Context, orderKey string) (*domain.DeliveryRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error)
}

type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(p *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: p}
}

// Connect opens a pool and pings the database.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool new: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Record upserts the latest outcome for an order key. Repeated outcomes
// for the same key bump the attempt counter and keep created_at.
func (r *DeliveryRepository) Record(ctx context.Context, rec domain.DeliveryRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries
			(order_key, status, vin, email, report_id, reason, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_key) DO UPDATE SET
			status     = EXCLUDED.status,
			vin        = EXCLUDED.vin,
			email      = EXCLUDED.email,
			report_id  = EXCLUDED.report_id,
			reason     = EXCLUDED.reason,
			attempts   = deliveries.attempts + 1,
			updated_at = EXCLUDED.updated_at
	`,
		rec.OrderKey,
		string(rec.Status),
		rec.VIN,
		rec.Email,
		rec.ReportID,
		rec.Reason,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		logger.Warn("delivery journal upsert failed", "order_key", rec.OrderKey, "err", err)
		return fmt.Errorf("record delivery %s: %w", rec.OrderKey, err)
	}
	return nil
}

// GetByOrderKey returns nil, nil when the key is unknown.
func (r *DeliveryRepository) GetByOrderKey(ctx context.Context, orderKey string) (*domain.DeliveryRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT order_key, status, vin, email, report_id, reason, created_at, updated_at
		FROM deliveries
		WHERE order_key = $1
	`, orderKey)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", orderKey, err)
	}
	return rec, nil
}

func (r *DeliveryRepository) ListRecent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_key, status, vin, email, report_id, reason, created_at, updated_at
		FROM deliveries
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.DeliveryRecord, error) {
	var (
		rec    domain.DeliveryRecord
		status string
	)
	if err := row.Scan(
		&rec.OrderKey,
		&status,
		&rec.VIN,
		&rec.Email,
		&rec.ReportID,
		&rec.Reason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	return &rec, nil
}
