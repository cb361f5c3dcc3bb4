// File: internal/metrics/filestore.go
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore is an append-only JSONL metrics store. It is the default backend
// for single-process deployments; use the Postgres backend when several
// processes share one budget.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the data directory if needed and opens the store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics dir: %w", err)
	}
	return &FileStore{
		path: filepath.Join(dir, "metrics.jsonl"),
		log:  logger.Named("metrics.file"),
	}, nil
}

// StoreMetric appends one metric event. Missing id/timestamp fields are
// stamped here so callers can pass minimal events.
func (s *FileStore) StoreMetric(ctx context.Context, m Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp == "" {
		m.Timestamp = nowISO()
	}

	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metric: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append metric: %w", err)
	}
	return nil
}

// QueryMetrics scans the file and returns events matching the type set and
// inclusive date range.
func (s *FileStore) QueryMetrics(ctx context.Context, types []string, startDate, endDate string) ([]Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer f.Close()

	var out []Metric
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m Metric
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			s.log.Warn("Skipping corrupt metric line", zap.Error(err))
			continue
		}
		if !matchesType(types, m.Type) || !inDateRange(m.Timestamp, startDate, endDate) {
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan metrics file: %w", err)
	}
	return out, nil
}

// Summary counts every stored event but rolls costs up from cost_tracking
// events only. Run events carry a Cost field for per-run reporting; that spend
// is already recorded as a cost_tracking event, so summing both would count it
// twice.
func (s *FileStore) Summary(ctx context.Context) (SummaryReport, error) {
	all, err := s.QueryMetrics(ctx, nil, "", "")
	if err != nil {
		return SummaryReport{}, err
	}
	report := SummaryReport{TotalMetrics: len(all)}
	for _, m := range all {
		if m.Type != TypeCostTracking {
			continue
		}
		report.CostTracking.TotalCost += m.Cost
		report.CostTracking.APICalls += m.APICalls
		report.CostTracking.TokenUsage += m.TokenUsage
	}
	return report, nil
}

// TrackCost stores a cost_tracking event.
func (s *FileStore) TrackCost(ctx context.Context, cost float64, apiCalls, tokenUsage int) error {
	return s.StoreMetric(ctx, Metric{
		Type:       TypeCostTracking,
		Cost:       cost,
		APICalls:   apiCalls,
		TokenUsage: tokenUsage,
	})
}
