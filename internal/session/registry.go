package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/raihanakbr/live-transcription-server/internal/metrics"
)

// ErrNotReserved is returned by Attach when the uid holds no open
// reservation.
var ErrNotReserved = errors.New("session: uid not reserved")

// Decision is the outcome of an admission attempt. A rejected client either
// hit capacity (WaitMinutes holds the estimate) or reused a live uid.
type Decision struct {
	Admitted    bool
	Duplicate   bool
	WaitMinutes float64
}

type entry struct {
	session    *Session
	admittedAt time.Time
}

// Registry tracks live sessions, enforcing the capacity and lifetime limits.
// Admission reserves a slot under the lock so the count cannot race; the
// session is attached once it has been built.
type Registry struct {
	maxClients  int
	maxLifetime time.Duration
	now         func() time.Time
	log         *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	MaxClients  int
	MaxLifetime time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		maxClients:  cfg.MaxClients,
		maxLifetime: cfg.MaxLifetime,
		now:         now,
		log:         logger.With("component", "registry"),
		metrics:     cfg.Metrics,
		entries:     make(map[string]*entry),
	}
}

// TryAdmit reserves a slot for uid if capacity allows.
func (r *Registry) TryAdmit(uid string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[uid]; exists {
		r.metrics.RecordRejected(metrics.ReasonDuplicate)
		return Decision{Duplicate: true}
	}
	if len(r.entries) >= r.maxClients {
		r.metrics.RecordRejected(metrics.ReasonCapacity)
		return Decision{WaitMinutes: r.waitMinutesLocked()}
	}

	r.entries[uid] = &entry{admittedAt: r.now()}
	r.metrics.SetActiveSessions(len(r.entries))
	return Decision{Admitted: true}
}

// waitMinutesLocked estimates when the oldest session will hit its lifetime.
func (r *Registry) waitMinutesLocked() float64 {
	if len(r.entries) == 0 {
		return 0
	}
	now := r.now()
	remaining := math.Inf(1)
	for _, e := range r.entries {
		left := (r.maxLifetime - now.Sub(e.admittedAt)).Seconds()
		remaining = math.Min(remaining, left)
	}
	return math.Max(0, remaining/60)
}

// Attach binds a built session to the reservation made by TryAdmit.
func (r *Registry) Attach(uid string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uid]
	if !ok || e.session != nil {
		return ErrNotReserved
	}
	e.session = s
	r.metrics.RecordAdmitted()
	return nil
}

// Get returns the session registered under uid.
func (r *Registry) Get(uid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uid]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Len returns the number of reserved or attached sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remove detaches uid and stops its session. Removing an unknown uid is a
// no-op; it reports whether anything was removed.
func (r *Registry) Remove(uid string) bool {
	e := r.detach(uid, nil)
	if e == nil {
		return false
	}
	r.cleanup(uid, e)
	return true
}

// Release removes s only if it is still the session registered under its
// uid, so a connection that outlived its entry cannot evict a newer one.
func (r *Registry) Release(s *Session) bool {
	e := r.detach(s.UID(), s)
	if e == nil {
		return false
	}
	r.cleanup(s.UID(), e)
	return true
}

func (r *Registry) detach(uid string, want *Session) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uid]
	if !ok || (want != nil && e.session != want) {
		return nil
	}
	delete(r.entries, uid)
	r.metrics.SetActiveSessions(len(r.entries))
	return e
}

func (r *Registry) cleanup(uid string, e *entry) {
	if e.session == nil {
		r.log.Info("reservation released", "uid", uid)
		return
	}
	e.session.Stop()
	r.metrics.RecordSessionClosed(r.now().Sub(e.admittedAt).Seconds())
	r.log.Info("session removed", "uid", uid)
}

// CheckLifetime evicts uid if it has been admitted for at least the maximum
// lifetime: the client is sent DISCONNECT, the worker is stopped and the
// connection closed. It reports whether the session was evicted.
func (r *Registry) CheckLifetime(uid string) bool {
	r.mu.Lock()
	e, ok := r.entries[uid]
	if !ok || r.now().Sub(e.admittedAt) < r.maxLifetime {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, uid)
	r.metrics.SetActiveSessions(len(r.entries))
	r.mu.Unlock()

	r.evict(uid, e)
	return true
}

func (r *Registry) evict(uid string, e *entry) {
	r.log.Warn("client exceeded maximum connection time, disconnecting", "uid", uid,
		"lifetime", r.maxLifetime)
	r.metrics.RecordEvicted()
	if e.session != nil {
		e.session.Disconnect()
	}
	r.cleanup(uid, e)
	if e.session != nil {
		e.session.CloseConn()
	}
}

// Sweep evicts every session past its lifetime and returns how many were
// evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	expired := make(map[string]*entry)
	for uid, e := range r.entries {
		if now.Sub(e.admittedAt) >= r.maxLifetime {
			expired[uid] = e
			delete(r.entries, uid)
		}
	}
	if len(expired) > 0 {
		r.metrics.SetActiveSessions(len(r.entries))
	}
	r.mu.Unlock()

	for uid, e := range expired {
		r.evict(uid, e)
	}
	return len(expired)
}

// StartReaper runs Sweep every interval until ctx is cancelled. The returned
// channel is closed when the reaper exits.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.log.Debug("reaper evicted sessions", "count", n)
				}
			}
		}
	}()
	return done
}

// Shutdown disconnects every session: DISCONNECT is sent, workers are
// stopped and connections closed.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := r.entries
	r.entries = make(map[string]*entry)
	r.metrics.SetActiveSessions(0)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for uid, e := range all {
		wg.Add(1)
		go func(uid string, e *entry) {
			defer wg.Done()
			if e.session != nil {
				e.session.Disconnect()
			}
			r.cleanup(uid, e)
			if e.session != nil {
				e.session.CloseConn()
			}
		}(uid, e)
	}
	wg.Wait()
	r.log.Info("registry shut down", "sessions", len(all))
}

// Snapshots returns a view of all attached sessions sorted by uid.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	type pair struct {
		s  *Session
		at time.Time
	}
	live := make([]pair, 0, len(r.entries))
	for _, e := range r.entries {
		if e.session != nil {
			live = append(live, pair{e.session, e.admittedAt})
		}
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(live))
	for _, p := range live {
		out = append(out, p.s.snapshot(p.at))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}
