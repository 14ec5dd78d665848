// Package memory is an in-process JobStore and dispatch Queue. It is safe for
// concurrent use and intended for tests and single-process development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"filingctl/internal/dispatch"
	"filingctl/internal/model"
)

var (
	_ model.JobStore = (*Store)(nil)
	_ model.Lister   = (*Store)(nil)
	_ model.Pruner   = (*Store)(nil)
	_ dispatch.Queue = (*Store)(nil)
)

type unit struct {
	dispatch.Unit
	owner      string
	token      string
	deliveries int
	leaseUntil time.Time
	// pending holds a run enqueued while the unit was leased.
	pending *dispatch.Unit
}

type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	units map[string]*unit
	now   func() time.Time
}

func New() *Store {
	return &Store{
		jobs:  make(map[string]*model.Job),
		units: make(map[string]*unit),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func (s *Store) Create(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("create job %s: already exists", j.ID)
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, &model.NotFoundError{JobID: id}
	}
	return j.Clone(), nil
}

func (s *Store) Update(_ context.Context, id string, u model.Update) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, &model.NotFoundError{JobID: id}
	}
	next, err := u.Apply(cur, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *Store) List(_ context.Context, opts model.ListOpts) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) CountByState(_ context.Context) (map[model.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.State]int, len(model.States))
	for _, st := range model.States {
		counts[st] = 0
	}
	for _, j := range s.jobs {
		counts[j.State]++
	}
	return counts, nil
}

func (s *Store) PruneTerminal(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			delete(s.units, id)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Dispatch queue
// ──────────────────────────────────────────────────

func (s *Store) Enqueue(_ context.Context, u dispatch.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Payload = u.Payload.Clone()
	cur, ok := s.units[u.JobID]
	if ok && cur.token != "" {
		cur.pending = &u
		return nil
	}
	s.units[u.JobID] = &unit{Unit: u}
	return nil
}

func (s *Store) Claim(_ context.Context, owner string, now time.Time, ttl time.Duration) (*dispatch.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pick *unit
	for _, u := range s.units {
		if u.NotBefore.After(now) {
			continue
		}
		if u.token != "" && u.leaseUntil.After(now) {
			continue
		}
		if pick == nil || u.NotBefore.Before(pick.NotBefore) {
			pick = u
		}
	}
	if pick == nil {
		return nil, nil
	}

	pick.owner = owner
	pick.token = uuid.NewString()
	pick.deliveries++
	pick.leaseUntil = now.Add(ttl)

	return &dispatch.Lease{
		Unit: dispatch.Unit{
			JobID:     pick.JobID,
			Payload:   pick.Payload.Clone(),
			NotBefore: pick.NotBefore,
		},
		Owner:      owner,
		Token:      pick.token,
		Deliveries: pick.deliveries,
		Until:      pick.leaseUntil,
	}, nil
}

func (s *Store) Ack(_ context.Context, l *dispatch.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[l.JobID]
	if !ok || u.token != l.Token {
		return nil
	}
	if u.pending != nil {
		s.units[l.JobID] = &unit{Unit: *u.pending}
		return nil
	}
	delete(s.units, l.JobID)
	return nil
}

func (s *Store) Retry(_ context.Context, l *dispatch.Lease, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[l.JobID]
	if !ok || u.token != l.Token {
		return nil
	}
	if u.pending != nil {
		s.units[l.JobID] = &unit{Unit: *u.pending}
		return nil
	}
	u.NotBefore = notBefore
	u.owner, u.token, u.leaseUntil = "", "", time.Time{}
	// A voluntary release is not a failed delivery.
	u.deliveries--
	return nil
}

func (s *Store) Has(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.units[jobID]
	return ok, nil
}

// Pending returns the number of units in the queue, leased or not.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}
