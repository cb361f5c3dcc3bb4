// File: internal/metrics/postgres.go
package metrics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the shared-budget metrics backend: several processes can
// point at one database and the cost controller replay sees all of them.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection and returns the store.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("metrics.postgres")}, nil
}

// StoreMetric inserts one metric event.
func (s *PostgresStore) StoreMetric(ctx context.Context, m Metric) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp == "" {
		m.Timestamp = nowISO()
	}

	data, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal metric data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics (id, metric_type, ts, cost, api_calls, token_usage, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, m.ID, m.Type, m.Timestamp, m.Cost, m.APICalls, m.TokenUsage, data)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// QueryMetrics returns events matching the type set and inclusive date range.
func (s *PostgresStore) QueryMetrics(ctx context.Context, types []string, startDate, endDate string) ([]Metric, error) {
	query := `
		SELECT id, metric_type, ts, cost, api_calls, token_usage, data
		FROM metrics
		WHERE ($1::text[] IS NULL OR metric_type = ANY($1))
		  AND ($2 = '' OR left(ts, 10) >= $2)
		  AND ($3 = '' OR left(ts, 10) <= $3)
		ORDER BY ts ASC;
	`
	var typeFilter []string
	if len(types) > 0 {
		typeFilter = types
	}

	rows, err := s.pool.Query(ctx, query, typeFilter, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		var data []byte
		if err := rows.Scan(&m.ID, &m.Type, &m.Timestamp, &m.Cost, &m.APICalls, &m.TokenUsage, &data); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &m.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metric data: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Summary counts every stored event but rolls costs up from cost_tracking
// events only, matching the file store. Run events repeat their spend in the
// Cost column; the authoritative record is the cost_tracking event.
func (s *PostgresStore) Summary(ctx context.Context) (SummaryReport, error) {
	var report SummaryReport
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cost) FILTER (WHERE metric_type = $1), 0),
		       COALESCE(SUM(api_calls) FILTER (WHERE metric_type = $1), 0),
		       COALESCE(SUM(token_usage) FILTER (WHERE metric_type = $1), 0)
		FROM metrics;
	`, TypeCostTracking).Scan(&report.TotalMetrics, &report.CostTracking.TotalCost,
		&report.CostTracking.APICalls, &report.CostTracking.TokenUsage)
	if err != nil {
		return SummaryReport{}, fmt.Errorf("failed to query metrics summary: %w", err)
	}
	return report, nil
}

// TrackCost stores a cost_tracking event.
func (s *PostgresStore) TrackCost(ctx context.Context, cost float64, apiCalls, tokenUsage int) error {
	return s.StoreMetric(ctx, Metric{
		Type:       TypeCostTracking,
		Cost:       cost,
		APICalls:   apiCalls,
		TokenUsage: tokenUsage,
	})
}
