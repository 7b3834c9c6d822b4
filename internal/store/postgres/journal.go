package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/signal-controller/internal/render"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// Record is one journaled render event.
type Record struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// RecentQuery filters Journal.Recent. An empty Type matches every event.
type RecentQuery struct {
	Type  string
	Limit int
}

// Journal persists render envelopes into render_events. It implements
// render.Sink.
type Journal struct {
	db     *DB
	logger *slog.Logger
}

func NewJournal(db *DB, logger *slog.Logger) *Journal {
	return &Journal{db: db, logger: logger.With("component", "journal")}
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Write(ctx context.Context, env render.Envelope) error {
	data, err := env.MarshalData()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO render_events (id, type, at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, env.ID, string(env.Type), env.At, data)
	if err != nil {
		return fmt.Errorf("insert render event %s: %w", env.ID, err)
	}
	return nil
}

// Recent returns the newest events first.
func (j *Journal) Recent(ctx context.Context, q RecentQuery) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, type, at, data
		FROM render_events
		WHERE ($1 = '' OR type = $1)
		ORDER BY at DESC, seq DESC
		LIMIT $2
	`, q.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("query render events: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var data []byte
		if err := rows.Scan(&r.ID, &r.Type, &r.At, &data); err != nil {
			return nil, fmt.Errorf("scan render event: %w", err)
		}
		r.At = r.At.UTC()
		r.Data = json.RawMessage(data)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render events: %w", err)
	}
	return records, nil
}

// Prune deletes events stamped before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, LongQueryTimeout)
	defer cancel()

	res, err := j.db.ExecContext(ctx, `DELETE FROM render_events WHERE at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune render events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// RunRetention prunes events older than maxAge every interval until ctx is
// done. A non-positive maxAge disables pruning.
func (j *Journal) RunRetention(ctx context.Context, interval, maxAge time.Duration) error {
	if maxAge <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := j.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				j.logger.Warn("journal prune failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("journal pruned", "deleted", n, "max_age", maxAge.String())
			}
		}
	}
}
