package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/model"
)

// Common errors for rollup reads.
var (
	ErrLinkNotFound   = errors.New("link not found")
	ErrRollupNotFound = errors.New("rollup not found")
)

// RollupRepository owns all writes to the rollup documents: per-link daily
// and monthly counters, the link's all-time counter and the global singleton.
//
// Every mutation is an additive upsert executed in the database (JSONB maps
// merged by the jsonb_counter_add SQL function); rows are never read,
// modified and written back in application code, so concurrent batches
// cannot lose updates.
type RollupRepository struct {
	repo    *Repository
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewRollupRepository creates a new RollupRepository.
func NewRollupRepository(repo *Repository, logger *slog.Logger, recorder metrics.Recorder) *RollupRepository {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &RollupRepository{
		repo:    repo,
		logger:  logger.With("component", "repository.rollup"),
		metrics: recorder,
	}
}

// IncrementLinkCounters bulk-increments each link's all-time counters.
// Links that no longer exist are skipped silently (zero rows affected).
func (r *RollupRepository) IncrementLinkCounters(ctx context.Context, deltas []*model.LinkDelta, chunkSize int) error {
	if len(deltas) == 0 {
		return nil
	}

	query := `
		UPDATE links
		SET total_clicks = total_clicks + $2,
		    by_country = jsonb_counter_add(by_country, $3)
		WHERE id = $1
	`

	for start := 0; start < len(deltas); start += chunkSize {
		chunk := deltas[start:min(start+chunkSize, len(deltas))]
		batch := &pgx.Batch{}
		for _, d := range chunk {
			countryJSON, _ := json.Marshal(d.ByCountry)
			batch.Queue(query, d.LinkID, d.TotalClicks, countryJSON)
		}
		if err := r.execChunk(ctx, batch, len(chunk), "links"); err != nil {
			return err
		}
	}
	return nil
}

// UpsertDailyRollups bulk upsert-increments per (link, day) rollups.
func (r *RollupRepository) UpsertDailyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error {
	query := `
		INSERT INTO daily_rollups (
			link_id, date, total_clicks, by_country, by_source, by_device, created_at, updated_at
		) VALUES ($1, $2::date, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (link_id, date) DO UPDATE SET
			total_clicks = daily_rollups.total_clicks + EXCLUDED.total_clicks,
			by_country = jsonb_counter_add(daily_rollups.by_country, EXCLUDED.by_country),
			by_source = jsonb_counter_add(daily_rollups.by_source, EXCLUDED.by_source),
			by_device = jsonb_counter_add(daily_rollups.by_device, EXCLUDED.by_device),
			updated_at = NOW()
	`
	return r.upsertRollups(ctx, query, deltas, chunkSize, "daily")
}

// UpsertMonthlyRollups bulk upsert-increments per (link, month) rollups.
func (r *RollupRepository) UpsertMonthlyRollups(ctx context.Context, deltas []*model.RollupDelta, chunkSize int) error {
	query := `
		INSERT INTO monthly_rollups (
			link_id, month, total_clicks, by_country, by_source, by_device, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (link_id, month) DO UPDATE SET
			total_clicks = monthly_rollups.total_clicks + EXCLUDED.total_clicks,
			by_country = jsonb_counter_add(monthly_rollups.by_country, EXCLUDED.by_country),
			by_source = jsonb_counter_add(monthly_rollups.by_source, EXCLUDED.by_source),
			by_device = jsonb_counter_add(monthly_rollups.by_device, EXCLUDED.by_device),
			updated_at = NOW()
	`
	return r.upsertRollups(ctx, query, deltas, chunkSize, "monthly")
}

func (r *RollupRepository) upsertRollups(ctx context.Context, query string, deltas []*model.RollupDelta, chunkSize int, pass string) error {
	if len(deltas) == 0 {
		return nil
	}

	for start := 0; start < len(deltas); start += chunkSize {
		chunk := deltas[start:min(start+chunkSize, len(deltas))]
		batch := &pgx.Batch{}
		for _, d := range chunk {
			countryJSON, _ := json.Marshal(d.ByCountry)
			sourceJSON, _ := json.Marshal(d.BySource)
			deviceJSON, _ := json.Marshal(d.ByDevice)
			batch.Queue(query, d.LinkID, d.Bucket, d.TotalClicks, countryJSON, sourceJSON, deviceJSON)
		}
		if err := r.execChunk(ctx, batch, len(chunk), pass); err != nil {
			return err
		}
	}
	return nil
}

// IncrementGlobalClicks adds the batch total to the platform-wide singleton,
// creating it on first use.
func (r *RollupRepository) IncrementGlobalClicks(ctx context.Context, n int64) error {
	if n == 0 {
		return nil
	}

	query := `
		INSERT INTO global_clicks (id, count, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			count = global_clicks.count + EXCLUDED.count,
			updated_at = NOW()
	`

	if _, err := r.repo.pool.Exec(ctx, query, n); err != nil {
		r.metrics.IncRollupWriteError("global")
		return fmt.Errorf("increment global clicks: %w", err)
	}
	return nil
}

// execChunk sends one bulk-write chunk. pgx runs the queued statements in a
// single implicit transaction, so one failing statement rolls the whole chunk
// back at Sync; siblings that "succeeded" were not applied. Any statement
// error therefore aborts the pass, leaving the batch unmarked for reclaim.
func (r *RollupRepository) execChunk(ctx context.Context, batch *pgx.Batch, count int, pass string) error {
	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < count; i++ {
		if _, err := results.Exec(); err != nil {
			r.metrics.IncRollupWriteError(pass)
			r.logger.Warn("rollup chunk rolled back",
				"pass", pass,
				"statement", i,
				"chunk_size", count,
				"error", err,
			)
			return fmt.Errorf("%s pass: chunk of %d rolled back at statement %d: %w", pass, count, i, err)
		}
	}
	return nil
}

// GetLinkCounter reads a link's all-time counters.
func (r *RollupRepository) GetLinkCounter(ctx context.Context, linkID string) (*model.LinkCounter, error) {
	query := `SELECT id, total_clicks, COALESCE(by_country, '{}') FROM links WHERE id = $1`

	counter := &model.LinkCounter{}
	var countryJSON []byte
	err := r.repo.pool.QueryRow(ctx, query, linkID).Scan(&counter.LinkID, &counter.TotalClicks, &countryJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("get link counter: %w", err)
	}

	if err := json.Unmarshal(countryJSON, &counter.ByCountry); err != nil {
		return nil, fmt.Errorf("decode country breakdown: %w", err)
	}
	return counter, nil
}

// GetDailyRollup reads one (link, day) rollup. Date is YYYY-MM-DD.
func (r *RollupRepository) GetDailyRollup(ctx context.Context, linkID, date string) (*model.DailyRollup, error) {
	query := `
		SELECT link_id, date, total_clicks, by_country, by_source, by_device, created_at, updated_at
		FROM daily_rollups
		WHERE link_id = $1 AND date = $2::date
	`

	rollup, err := scanDailyRollup(r.repo.pool.QueryRow(ctx, query, linkID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRollupNotFound
		}
		return nil, fmt.Errorf("get daily rollup: %w", err)
	}
	return rollup, nil
}

// GetDailyRange reads a link's daily rollups within [from, to], newest first.
func (r *RollupRepository) GetDailyRange(ctx context.Context, linkID, from, to string) ([]*model.DailyRollup, error) {
	query := `
		SELECT link_id, date, total_clicks, by_country, by_source, by_device, created_at, updated_at
		FROM daily_rollups
		WHERE link_id = $1 AND date >= $2::date AND date <= $3::date
		ORDER BY date DESC
	`

	rows, err := r.repo.pool.Query(ctx, query, linkID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily rollups: %w", err)
	}
	defer rows.Close()

	var rollups []*model.DailyRollup
	for rows.Next() {
		rollup, err := scanDailyRollup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily rollup: %w", err)
		}
		rollups = append(rollups, rollup)
	}
	return rollups, rows.Err()
}

// GetMonthlyRollup reads one (link, month) rollup. Month is YYYY-MM.
func (r *RollupRepository) GetMonthlyRollup(ctx context.Context, linkID, month string) (*model.MonthlyRollup, error) {
	query := `
		SELECT link_id, month, total_clicks, by_country, by_source, by_device, created_at, updated_at
		FROM monthly_rollups
		WHERE link_id = $1 AND month = $2
	`

	rollup := &model.MonthlyRollup{}
	var countryJSON, sourceJSON, deviceJSON []byte
	err := r.repo.pool.QueryRow(ctx, query, linkID, month).Scan(
		&rollup.LinkID,
		&rollup.Month,
		&rollup.TotalClicks,
		&countryJSON,
		&sourceJSON,
		&deviceJSON,
		&rollup.CreatedAt,
		&rollup.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRollupNotFound
		}
		return nil, fmt.Errorf("get monthly rollup: %w", err)
	}

	if err := decodeBreakdowns(countryJSON, sourceJSON, deviceJSON,
		&rollup.ByCountry, &rollup.BySource, &rollup.ByDevice); err != nil {
		return nil, err
	}
	return rollup, nil
}

// GetGlobalClicks reads the platform-wide counter. Returns a zero counter if
// no aggregation pass has run yet.
func (r *RollupRepository) GetGlobalClicks(ctx context.Context) (*model.GlobalClicks, error) {
	query := `SELECT count, updated_at FROM global_clicks WHERE id = 1`

	global := &model.GlobalClicks{}
	err := r.repo.pool.QueryRow(ctx, query).Scan(&global.Count, &global.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.GlobalClicks{}, nil
		}
		return nil, fmt.Errorf("get global clicks: %w", err)
	}
	return global, nil
}

func scanDailyRollup(row pgx.Row) (*model.DailyRollup, error) {
	rollup := &model.DailyRollup{}
	var date time.Time
	var countryJSON, sourceJSON, deviceJSON []byte

	err := row.Scan(
		&rollup.LinkID,
		&date,
		&rollup.TotalClicks,
		&countryJSON,
		&sourceJSON,
		&deviceJSON,
		&rollup.CreatedAt,
		&rollup.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rollup.Date = date.UTC().Format("2006-01-02")
	if err := decodeBreakdowns(countryJSON, sourceJSON, deviceJSON,
		&rollup.ByCountry, &rollup.BySource, &rollup.ByDevice); err != nil {
		return nil, err
	}
	return rollup, nil
}

func decodeBreakdowns(countryJSON, sourceJSON, deviceJSON []byte, country, source, device *map[string]int64) error {
	for _, pair := range []struct {
		raw []byte
		dst *map[string]int64
	}{
		{countryJSON, country},
		{sourceJSON, source},
		{deviceJSON, device},
	} {
		if len(pair.raw) == 0 {
			*pair.dst = map[string]int64{}
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return nil
}
