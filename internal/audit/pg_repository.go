package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository stores events in the event_logs table.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Slot)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO event_logs (id, event_type, alias, payload, message, screenshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, ev.ID, string(ev.Kind), ev.Slot.Alias, payload, ev.Message, ev.Screenshot, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first.
func (r *PgRepository) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, payload, message, screenshot, created_at
		FROM event_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			ev      Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &payload, &ev.Message, &ev.Screenshot, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		if err := json.Unmarshal(payload, &ev.Slot); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
