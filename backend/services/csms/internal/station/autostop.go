package station

import (
	"sync"
	"time"
)

type AutoStopConfig struct {
	Enabled     bool
	ThresholdKW float64
	Duration    time.Duration
}

func DefaultAutoStopConfig() AutoStopConfig {
	return AutoStopConfig{
		Enabled:     true,
		ThresholdKW: 0.8,
		Duration:    180 * time.Second,
	}
}

type trackKey struct {
	stationID   string
	connectorID int
}

type lowPowerTrack struct {
	transactionID int
	belowSince    time.Time
}

// AutoStopMonitor detects transactions whose power stayed below a threshold for a
// sustained period. It only decides; the caller issues the remote stop.
type AutoStopMonitor struct {
	cfg AutoStopConfig

	mu     sync.Mutex
	tracks map[trackKey]*lowPowerTrack
}

func NewAutoStopMonitor(cfg AutoStopConfig) *AutoStopMonitor {
	return &AutoStopMonitor{
		cfg:    cfg,
		tracks: make(map[trackKey]*lowPowerTrack),
	}
}

func (m *AutoStopMonitor) Config() AutoStopConfig {
	return m.cfg
}

// Track starts watching a transaction, replacing any previous track on the connector.
func (m *AutoStopMonitor) Track(stationID string, connectorID, transactionID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[trackKey{stationID, connectorID}] = &lowPowerTrack{transactionID: transactionID}
}

func (m *AutoStopMonitor) Untrack(stationID string, connectorID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracks, trackKey{stationID, connectorID})
}

func (m *AutoStopMonitor) UntrackStation(stationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.tracks {
		if key.stationID == stationID {
			delete(m.tracks, key)
		}
	}
}

// Observe feeds one power sample. It returns the transaction to stop when the reading has
// been below threshold for at least the configured duration. The window restarts after a
// trigger, so repeated stale readings do not fire again straight away.
func (m *AutoStopMonitor) Observe(stationID string, connectorID int, powerKW float64, now time.Time) (int, bool) {
	if !m.cfg.Enabled {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	track, ok := m.tracks[trackKey{stationID, connectorID}]
	if !ok {
		return 0, false
	}

	if powerKW >= m.cfg.ThresholdKW {
		track.belowSince = time.Time{}
		return 0, false
	}

	if track.belowSince.IsZero() {
		track.belowSince = now
	}
	if now.Sub(track.belowSince) >= m.cfg.Duration {
		track.belowSince = time.Time{}
		return track.transactionID, true
	}
	return 0, false
}

// BelowSince exposes the start of the current low power window.
func (m *AutoStopMonitor) BelowSince(stationID string, connectorID int) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	track, ok := m.tracks[trackKey{stationID, connectorID}]
	if !ok || track.belowSince.IsZero() {
		return time.Time{}, false
	}
	return track.belowSince, true
}

func (m *AutoStopMonitor) Tracking(stationID string, connectorID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracks[trackKey{stationID, connectorID}]
	return ok
}
