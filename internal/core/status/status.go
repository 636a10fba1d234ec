// Package status derives a vehicle's status from report recency and speed.
// Device-asserted status fields are never consulted.
package status

import (
	"time"

	"fleettrack/internal/core/model"
)

// DefaultOnlineWindow is how long a report keeps a vehicle online or stopped.
const DefaultOnlineWindow = 60 * time.Second

// Reconcile is a pure function of its inputs. A vehicle that never reported is offline.
func Reconcile(lastReportAt time.Time, speedKph float64, now time.Time, window time.Duration) model.Status {
	if lastReportAt.IsZero() {
		return model.StatusOffline
	}
	if now.Sub(lastReportAt) > window {
		return model.StatusOffline
	}
	if speedKph > 0 {
		return model.StatusOnline
	}
	return model.StatusStopped
}

// Apply returns a copy of state with Status recomputed for now.
func Apply(state model.VehicleState, now time.Time, window time.Duration) model.VehicleState {
	state.Status = Reconcile(state.LastReportAt, state.SpeedKph, now, window)
	return state
}

type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Stopped int `json:"stopped"`
	Offline int `json:"offline"`
}

// Summarize reconciles every state against the same now and counts the results.
func Summarize(states []model.VehicleState, now time.Time, window time.Duration) Summary {
	var s Summary
	for _, st := range states {
		s.Total++
		switch Reconcile(st.LastReportAt, st.SpeedKph, now, window) {
		case model.StatusOnline:
			s.Online++
		case model.StatusStopped:
			s.Stopped++
		default:
			s.Offline++
		}
	}
	return s
}
