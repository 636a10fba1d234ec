package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/metrics"
)

const (
	DefaultHistoryLimit = 500
	MaxHistoryLimit     = 5000
)

// HistoryQuery selects entries in [From, To]; zero bounds are open. Cursor is
// the NextCursor of a previous page.
type HistoryQuery struct {
	VehicleID string
	From      time.Time
	To        time.Time
	Cursor    string
	Limit     int
}

type HistoryPage struct {
	Entries    []*model.HistoryEntry `json:"entries"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

// History is the append-only location log. Nothing on the ingest path purges it.
type History interface {
	Append(ctx context.Context, vehicleID string, report *model.LocationReport, stale bool) (*model.HistoryEntry, error)
	Query(ctx context.Context, q HistoryQuery) (*HistoryPage, error)
	Count(ctx context.Context, vehicleID string) (int64, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

type history struct {
	repo repository.HistoryRepository
	log  *zap.Logger
}

func NewHistory(repo repository.HistoryRepository, log *zap.Logger) History {
	return &history{repo: repo, log: log}
}

func (s *history) Append(ctx context.Context, vehicleID string, report *model.LocationReport, stale bool) (*model.HistoryEntry, error) {
	entry := model.NewHistoryEntry(vehicleID, report, stale)
	if err := s.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}
	metrics.HistoryAppends.Inc()
	return entry, nil
}

func (s *history) Query(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.VehicleID == "" {
		return nil, fmt.Errorf("%w: vehicle is required", model.ErrInvalidQuery)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: range end is before its start", model.ErrInvalidQuery)
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	filter := repository.HistoryFilter{
		VehicleID: q.VehicleID,
		From:      q.From,
		To:        q.To,
		Limit:     limit + 1,
	}
	if q.Cursor != "" {
		after, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		filter.After = after
	}

	entries, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	if page.Entries == nil {
		page.Entries = []*model.HistoryEntry{}
	}
	return page, nil
}

func (s *history) Count(ctx context.Context, vehicleID string) (int64, error) {
	return s.repo.CountByVehicleID(ctx, vehicleID)
}

func (s *history) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := s.repo.DeleteBefore(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	s.log.Info("history purged", zap.Time("older_than", olderThan), zap.Int64("deleted", n))
	return n, nil
}

// Cursors are opaque to clients: base64url("<unix nanos>:<entry id>").
func encodeCursor(ts time.Time, id string) string {
	raw := strconv.FormatInt(ts.UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (*repository.HistoryCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cursor", model.ErrInvalidQuery)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: bad cursor", model.ErrInvalidQuery)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cursor", model.ErrInvalidQuery)
	}
	return &repository.HistoryCursor{Timestamp: time.Unix(0, n).UTC(), ID: id}, nil
}
