package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleettrack/internal/core/model"
)

func TestReconcile(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	tests := []struct {
		name  string
		last  time.Time
		speed float64
		now   time.Time
		want  model.Status
	}{
		{"moving inside window", t0, 88, t0.Add(30 * time.Second), model.StatusOnline},
		{"standing inside window", t0, 0, t0.Add(30 * time.Second), model.StatusStopped},
		{"exactly at window edge", t0, 10, t0.Add(window), model.StatusOnline},
		{"moving past window", t0, 88, t0.Add(window + time.Second), model.StatusOffline},
		{"standing past window", t0, 0, t0.Add(time.Hour), model.StatusOffline},
		{"never reported", time.Time{}, 50, t0, model.StatusOffline},
		{"report at now", t0, 0, t0, model.StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reconcile(tt.last, tt.speed, tt.now, window))
		})
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := Reconcile(t0, 42, t0.Add(10*time.Second), DefaultOnlineWindow)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Reconcile(t0, 42, t0.Add(10*time.Second), DefaultOnlineWindow))
	}
}

func TestAdvancingClockFlipsToOffline(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := model.VehicleState{VehicleID: "v1", SpeedKph: 88, LastReportAt: t0}

	assert.Equal(t, model.StatusOnline, Apply(state, t0, DefaultOnlineWindow).Status)
	assert.Equal(t, model.StatusOffline, Apply(state, t0.Add(DefaultOnlineWindow+time.Millisecond), DefaultOnlineWindow).Status)
	assert.Empty(t, state.Status, "Apply must not mutate its argument")
}

func TestSummarize(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	states := []model.VehicleState{
		{VehicleID: "a", SpeedKph: 30, LastReportAt: t0},
		{VehicleID: "b", SpeedKph: 0, LastReportAt: t0},
		{VehicleID: "c", SpeedKph: 30, LastReportAt: t0.Add(-time.Hour)},
		{VehicleID: "d"},
	}

	got := Summarize(states, t0.Add(5*time.Second), time.Minute)
	assert.Equal(t, Summary{Total: 4, Online: 1, Stopped: 1, Offline: 2}, got)
}
