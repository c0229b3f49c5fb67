// Package quota implements the per-user, per-service request quota with a
// fixed reset window.
//
// A request is admitted with Admit, which hands out a Ticket holding an
// in-flight reservation. The reservation counts against the limit until the
// ticket is either committed (the unit is consumed) or released (the unit is
// returned). Two concurrent requests can therefore never both pass the last
// free slot, and a failed request never costs the user anything.
//
// Records are serialized per (user, service) key; distinct keys never block
// each other. Enforcement is per process unless the Store is shared.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbourn/devlift/internal/domain"
)

// ErrTicketClosed is returned by Commit on a ticket that was already
// committed or released.
var ErrTicketClosed = errors.New("quota: ticket already closed")

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int       // slots left before this request is counted
	ResetAt   time.Time // end of the current window
}

// Status is a quota snapshot for one (user, service) pair.
type Status struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type key struct {
	user string
	svc  domain.Service
}

// entry serializes access to one key. refs and pending are guarded by
// Tracker.mu; mu is held across the store read-modify-write.
type entry struct {
	mu      sync.Mutex
	refs    int
	pending int
}

// Tracker enforces ServiceLimitPolicy per (user, service).
//
// This type is safe for concurrent use.
type Tracker struct {
	// Now returns the current time. Tests may replace it.
	Now func() time.Time

	policies map[domain.Service]domain.ServiceLimitPolicy
	store    Store

	mu   sync.Mutex
	keys map[key]*entry
}

// NewTracker constructs a Tracker over store using policies. Every policy
// must have a positive limit and window.
func NewTracker(store Store, policies map[domain.Service]domain.ServiceLimitPolicy) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("quota: nil store")
	}
	ps := make(map[domain.Service]domain.ServiceLimitPolicy, len(policies))
	for svc, p := range policies {
		if p.MaxRequests <= 0 {
			return nil, fmt.Errorf("quota: %s: max requests must be > 0", svc)
		}
		if p.Window <= 0 {
			return nil, fmt.Errorf("quota: %s: window must be > 0", svc)
		}
		ps[svc] = p
	}
	return &Tracker{
		Now:      func() time.Time { return time.Now().UTC() },
		policies: ps,
		store:    store,
		keys:     make(map[key]*entry),
	}, nil
}

// Policy returns the configured policy for svc. It panics for a service that
// has no policy: callers validate service names at the edge.
func (t *Tracker) Policy(svc domain.Service) domain.ServiceLimitPolicy {
	p, ok := t.policies[svc]
	if !ok {
		panic(fmt.Sprintf("quota: no policy for service %q", svc))
	}
	return p
}

// Admit checks whether userID may make one more svc request and, if so,
// reserves a slot. The returned ticket is nil when the request is denied.
//
// Absent or expired records open a fresh window ending now+window. A denied
// decision carries Remaining 0 and the stored window end.
func (t *Tracker) Admit(ctx context.Context, userID string, svc domain.Service) (Decision, *Ticket, error) {
	p := t.Policy(svc)
	k := key{userID, svc}
	e := t.lock(k)
	defer t.unlock(k, e)

	rec, err := t.current(ctx, k, p, true)
	if err != nil {
		return Decision{}, nil, err
	}

	used := rec.Count + t.pending(e)
	if used >= p.MaxRequests {
		admissions.WithLabelValues(string(svc), "denied").Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: rec.WindowResetAt}, nil, nil
	}

	t.addPending(e, 1)
	admissions.WithLabelValues(string(svc), "allowed").Inc()
	return Decision{
		Allowed:   true,
		Remaining: p.MaxRequests - used,
		ResetAt:   rec.WindowResetAt,
	}, &Ticket{t: t, k: k}, nil
}

// Status reports the remaining slots and window end without modifying any
// state. In-flight reservations count as used.
func (t *Tracker) Status(ctx context.Context, userID string, svc domain.Service) (Status, error) {
	p := t.Policy(svc)
	k := key{userID, svc}
	e := t.lock(k)
	defer t.unlock(k, e)

	rec, err := t.current(ctx, k, p, false)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Remaining: max(0, p.MaxRequests-rec.Count-t.pending(e)),
		ResetAt:   rec.WindowResetAt,
	}, nil
}

// Sweep deletes records whose window has ended. Deleting an expired record
// is indistinguishable from keeping it: the next admission opens a fresh
// window either way.
func (t *Tracker) Sweep(ctx context.Context) (int64, error) {
	return t.store.DeleteExpired(ctx, t.Now())
}

// current loads the record for k, substituting a fresh window when it is
// absent or expired. The fresh window is persisted when save is set.
func (t *Tracker) current(ctx context.Context, k key, p domain.ServiceLimitPolicy, save bool) (domain.QuotaRecord, error) {
	now := t.Now()
	rec, ok, err := t.store.Get(ctx, k.user, k.svc)
	if err != nil {
		return domain.QuotaRecord{}, err
	}
	if ok && !rec.Expired(now) {
		return rec, nil
	}
	rec = domain.QuotaRecord{
		UserID:        k.user,
		Service:       k.svc,
		Count:         0,
		WindowResetAt: now.Add(p.Window),
	}
	if save {
		if err := t.store.Put(ctx, rec); err != nil {
			return domain.QuotaRecord{}, err
		}
	}
	return rec, nil
}

func (t *Tracker) lock(k key) *entry {
	t.mu.Lock()
	e, ok := t.keys[k]
	if !ok {
		e = &entry{}
		t.keys[k] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return e
}

func (t *Tracker) unlock(k key, e *entry) {
	e.mu.Unlock()

	t.mu.Lock()
	e.refs--
	if e.refs == 0 && e.pending == 0 {
		delete(t.keys, k)
	}
	t.mu.Unlock()
}

func (t *Tracker) pending(e *entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return e.pending
}

func (t *Tracker) addPending(e *entry, d int) {
	t.mu.Lock()
	e.pending += d
	t.mu.Unlock()
	reservations.Add(float64(d))
}

// Ticket is an admitted reservation. Exactly one of Commit or Release takes
// effect; later calls are no-ops (Commit reports ErrTicketClosed).
type Ticket struct {
	t      *Tracker
	k      key
	closed atomic.Bool
}

// Service returns the service the ticket was admitted for.
func (tk *Ticket) Service() domain.Service { return tk.k.svc }

// Commit consumes one unit of quota in the current window and returns the
// snapshot right after the increment. If the window rolled over since
// admission, the unit is counted in the new window.
func (tk *Ticket) Commit(ctx context.Context) (Status, error) {
	if !tk.closed.CompareAndSwap(false, true) {
		return Status{}, ErrTicketClosed
	}
	t := tk.t
	p := t.Policy(tk.k.svc)
	e := t.lock(tk.k)
	defer t.unlock(tk.k, e)
	// The reservation ends whether or not the write succeeds.
	defer t.addPending(e, -1)

	rec, err := t.current(ctx, tk.k, p, false)
	if err != nil {
		return Status{}, err
	}
	rec.Count++
	if err := t.store.Put(ctx, rec); err != nil {
		return Status{}, err
	}
	commits.WithLabelValues(string(tk.k.svc)).Inc()

	return Status{
		Remaining: max(0, p.MaxRequests-rec.Count-(t.pending(e)-1)),
		ResetAt:   rec.WindowResetAt,
	}, nil
}

// Release returns the reserved unit without consuming quota. It is safe to
// call after Commit and more than once.
func (tk *Ticket) Release() {
	if !tk.closed.CompareAndSwap(false, true) {
		return
	}
	e := tk.t.lock(tk.k)
	tk.t.addPending(e, -1)
	tk.t.unlock(tk.k, e)
}
