package station

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry maps station ids to their sessions. A session stays registered after its
// connection closes so its last state can still be inspected.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	return &Registry{
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// Connect opens a fresh session for a new connection. A previous session under the same id
// is marked offline first; its transactions are not carried over.
func (r *Registry) Connect(stationID string) *Session {
	sess := NewSession(stationID, r.deps)

	r.mu.Lock()
	previous := r.sessions[stationID]
	r.sessions[stationID] = sess
	r.mu.Unlock()

	if previous != nil {
		r.logger.Info("station reconnected, replacing session", zap.String("station_id", stationID))
		previous.MarkOffline()
	} else {
		r.logger.Info("station connected", zap.String("station_id", stationID))
	}
	sess.publish(Event{Type: EventStationConnected})
	return sess
}

// Disconnect marks sess offline if it is still the registered session for the station.
func (r *Registry) Disconnect(stationID string, sess *Session) {
	r.mu.RLock()
	current := r.sessions[stationID]
	r.mu.RUnlock()

	if sess == nil {
		sess = current
	}
	if sess == nil {
		return
	}
	sess.MarkOffline()
	if current == sess {
		r.logger.Info("station disconnected", zap.String("station_id", stationID))
	}
}

func (r *Registry) Get(stationID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[stationID]
	if !ok {
		return nil, ErrStationNotFound
	}
	return sess, nil
}

// Online returns the session only while its station is connected.
func (r *Registry) Online(stationID string) (*Session, error) {
	sess, err := r.Get(stationID)
	if err != nil {
		return nil, err
	}
	if !sess.Online() {
		return nil, ErrStationOffline
	}
	return sess, nil
}

// Remove forgets a disconnected station.
func (r *Registry) Remove(stationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[stationID]
	if !ok {
		return ErrStationNotFound
	}
	if sess.Online() {
		return ErrStationOnline
	}
	delete(r.sessions, stationID)
	r.logger.Info("station removed", zap.String("station_id", stationID))
	return nil
}

func (r *Registry) list() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return strings.Compare(sessions[i].id, sessions[j].id) < 0 })
	return sessions
}

// Active lists transactions of connected stations ordered by station and connector.
func (r *Registry) Active() []ActiveTransaction {
	active := make([]ActiveTransaction, 0)
	for _, sess := range r.list() {
		if !sess.Online() {
			continue
		}
		active = append(active, sess.ActiveTransactions()...)
	}
	return active
}

func (r *Registry) Snapshots() []Snapshot {
	sessions := r.list()
	snaps := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	return snaps
}

// Count returns the number of registered and connected stations.
func (r *Registry) Count() (total, online int) {
	for _, sess := range r.list() {
		total++
		if sess.Online() {
			online++
		}
	}
	return total, online
}

// Shutdown marks every session offline.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, sess := range r.list() {
		if ctx.Err() != nil {
			return
		}
		sess.MarkOffline()
	}
}
