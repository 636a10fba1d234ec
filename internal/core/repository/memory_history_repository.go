package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleettrack/internal/core/model"
)

type inMemoryHistoryRepository struct {
	entries map[string][]*model.HistoryEntry
	mutex   sync.RWMutex
}

func NewInMemoryHistoryRepository() HistoryRepository {
	return &inMemoryHistoryRepository{
		entries: make(map[string][]*model.HistoryEntry),
	}
}

func (r *inMemoryHistoryRepository) Append(_ context.Context, entry *model.HistoryEntry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cp := *entry
	r.entries[entry.VehicleID] = append(r.entries[entry.VehicleID], &cp)
	return nil
}

func (r *inMemoryHistoryRepository) Query(_ context.Context, filter HistoryFilter) ([]*model.HistoryEntry, error) {
	r.mutex.RLock()
	var result []*model.HistoryEntry
	for _, entry := range r.entries[filter.VehicleID] {
		if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
			continue
		}
		if filter.After != nil && !entryAfter(entry, filter.After) {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}
	r.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func entryAfter(entry *model.HistoryEntry, c *HistoryCursor) bool {
	if entry.Timestamp.Equal(c.Timestamp) {
		return entry.ID > c.ID
	}
	return entry.Timestamp.After(c.Timestamp)
}

func (r *inMemoryHistoryRepository) CountByVehicleID(_ context.Context, vehicleID string) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return int64(len(r.entries[vehicleID])), nil
}

func (r *inMemoryHistoryRepository) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var deleted int64
	for vehicleID, entries := range r.entries {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Timestamp.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(r.entries, vehicleID)
			continue
		}
		r.entries[vehicleID] = kept
	}
	return deleted, nil
}
