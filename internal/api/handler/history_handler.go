package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
	"fleettrack/internal/export"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 366
	// exportMaxEntries bounds one spreadsheet.
	exportMaxEntries = 100000
)

type HistoryHandler struct {
	registry service.Registry
	history  service.History
	now      func() time.Time
	log      *zap.Logger
}

func NewHistoryHandler(registry service.Registry, history service.History, log *zap.Logger) *HistoryHandler {
	return &HistoryHandler{registry: registry, history: history, now: time.Now, log: log}
}

// Query serves one page of history. The range is either from/to (RFC3339) or
// the last days days, 7 by default.
func (h *HistoryHandler) Query(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}

	q, err := h.parseQuery(r, vehicle.ID)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	page, err := h.history.Query(r.Context(), q)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, page)
}

func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}

	q, err := h.parseQuery(r, vehicle.ID)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	q.Limit = service.MaxHistoryLimit

	var entries []*model.HistoryEntry
	for len(entries) < exportMaxEntries {
		page, err := h.history.Query(r.Context(), q)
		if err != nil {
			util.WriteError(w, h.log, err)
			return
		}
		entries = append(entries, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		q.Cursor = page.NextCursor
	}
	if len(entries) > exportMaxEntries {
		entries = entries[:exportMaxEntries]
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="history-%s.xlsx"`, vehicle.ID))
	if err := export.WriteHistory(w, vehicle, entries); err != nil {
		h.log.Error("failed to write history export", zap.String("vehicle_id", vehicle.ID), zap.Error(err))
	}
}

func (h *HistoryHandler) parseQuery(r *http.Request, vehicleID string) (service.HistoryQuery, error) {
	params := r.URL.Query()
	q := service.HistoryQuery{VehicleID: vehicleID, Cursor: params.Get("cursor")}

	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%w: limit %q", model.ErrInvalidQuery, v)
		}
		q.Limit = n
	}

	var err error
	if q.From, err = parseTime(params.Get("from")); err != nil {
		return q, err
	}
	if q.To, err = parseTime(params.Get("to")); err != nil {
		return q, err
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		return q, nil
	}

	days := defaultHistoryDays
	if v := params.Get("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil || days < 1 || days > maxHistoryDays {
			return q, fmt.Errorf("%w: days must be between 1 and %d", model.ErrInvalidQuery, maxHistoryDays)
		}
	}
	q.From = h.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return q, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q is not RFC3339", model.ErrInvalidQuery, v)
	}
	return t.UTC(), nil
}
