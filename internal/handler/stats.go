package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkpulse/linkpulse/internal/metrics"
	"github.com/linkpulse/linkpulse/internal/repository"
)

// StatsHandler exposes read-only rollup endpoints for the reporting layer.
//
// These are internal endpoints: the public analytics API lives in the web
// application, which queries the same tables.
type StatsHandler struct {
	rollups *repository.RollupRepository
	logger  *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(rollups *repository.RollupRepository, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		rollups: rollups,
		logger:  logger.With("component", "handler.stats"),
	}
}

// GlobalClicks returns the platform-wide click counter.
// GET /internal/stats/global
func (h *StatsHandler) GlobalClicks(w http.ResponseWriter, r *http.Request) {
	global, err := h.rollups.GetGlobalClicks(r.Context())
	if err != nil {
		h.logger.Error("get global clicks", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read global counter")
		return
	}
	writeJSON(w, http.StatusOK, global)
}

// LinkCounter returns a link's all-time counters.
// GET /internal/links/{linkID}/counter
func (h *StatsHandler) LinkCounter(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")

	counter, err := h.rollups.GetLinkCounter(r.Context(), linkID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			writeError(w, http.StatusNotFound, "LINK_NOT_FOUND", "link not found")
			return
		}
		h.logger.Error("get link counter", "link_id", linkID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read link counter")
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

// DailyRollups returns a link's daily rollups for a date range.
// Defaults to the last 30 days when no range is given.
// GET /internal/links/{linkID}/rollups/daily?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *StatsHandler) DailyRollups(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")

	now := time.Now().UTC()
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = now.Format("2006-01-02")
	}
	if from == "" {
		from = now.AddDate(0, 0, -30).Format("2006-01-02")
	}
	if !validDate(from) || !validDate(to) {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", "dates must be YYYY-MM-DD")
		return
	}

	rollups, err := h.rollups.GetDailyRange(r.Context(), linkID, from, to)
	if err != nil {
		h.logger.Error("get daily rollups", "link_id", linkID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read daily rollups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"link_id": linkID,
		"from":    from,
		"to":      to,
		"rollups": rollups,
	})
}

// MonthlyRollup returns a link's rollup for one month (default: current).
// GET /internal/links/{linkID}/rollups/monthly?month=YYYY-MM
func (h *StatsHandler) MonthlyRollup(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")

	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	if !validMonth(month) {
		writeError(w, http.StatusBadRequest, "INVALID_MONTH", "month must be YYYY-MM")
		return
	}

	rollup, err := h.rollups.GetMonthlyRollup(r.Context(), linkID, month)
	if err != nil {
		if errors.Is(err, repository.ErrRollupNotFound) {
			writeError(w, http.StatusNotFound, "ROLLUP_NOT_FOUND", "no rollup for that month")
			return
		}
		h.logger.Error("get monthly rollup", "link_id", linkID, "month", month, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read monthly rollup")
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

// MetricsHandler exposes the in-memory metrics snapshot.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Snapshot returns current pipeline counters.
// GET /internal/metrics
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshotter.Snapshot())
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validMonth(s string) bool {
	_, err := time.Parse("2006-01", s)
	return err == nil
}
