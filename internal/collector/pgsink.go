package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/event"
)

// PGSink persists events to Postgres. Event ids carry idempotency:
// replays after a retried batch are dropped by ON CONFLICT DO NOTHING.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(ctx context.Context, dsn string) (*PGSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &PGSink{pool: pool}, nil
}

func (p *PGSink) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// EnsureSchema creates the events table when it does not exist yet.
func (p *PGSink) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS events (
    event_id       text PRIMARY KEY,
    name           text NOT NULL,
    category       text,
    action         text,
    label          text,
    value          double precision,
    user_id        text,
    session_id     text,
    ts             timestamptz NOT NULL,
    source         text,
    schema_version text,
    properties     jsonb
)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PGSink) Store(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	cols := []string{"event_id", "name", "category", "action", "label", "value", "user_id", "session_id", "ts", "source", "schema_version", "properties"}
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*len(cols))

	argi := 1
	for _, ev := range events {
		ph := make([]string, 0, len(cols))
		add := func(v any, cast string) {
			args = append(args, v)
			ph = append(ph, fmt.Sprintf("$%d%s", argi, cast))
			argi++
		}

		add(ev.ID, "")
		add(ev.Name, "")
		add(nullable(ev.Category), "")
		add(nullable(ev.Action), "")
		add(nullable(ev.Label), "")
		add(ev.Value, "")
		add(nullable(ev.UserID), "")
		add(nullable(ev.SessionID), "")
		add(ev.Timestamp, "")
		add(ev.Source, "")
		add(ev.SchemaVersion, "")
		if ev.Properties == nil {
			add(nil, "::jsonb")
		} else {
			b, _ := json.Marshal(ev.Properties)
			add(string(b), "::jsonb")
		}

		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO events (" + strings.Join(cols, ",") + ") VALUES " +
		strings.Join(placeholders, ",") +
		" ON CONFLICT DO NOTHING"

	ct, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (p *PGSink) Aggregate(ctx context.Context, start, end time.Time) (*delivery.AnalyticsReport, error) {
	report := &delivery.AnalyticsReport{EventsByName: make(map[string]int64)}

	row := p.pool.QueryRow(ctx,
		`SELECT COUNT(*)::bigint, COUNT(DISTINCT user_id)::bigint FROM events WHERE ts >= $1 AND ts <= $2`,
		start, end)
	if err := row.Scan(&report.TotalEvents, &report.UniqueUsers); err != nil {
		return nil, fmt.Errorf("scan totals: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT name, COUNT(*)::bigint FROM events WHERE ts >= $1 AND ts <= $2 GROUP BY name`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan name count: %w", err)
		}
		report.EventsByName[name] = count
	}
	return report, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
