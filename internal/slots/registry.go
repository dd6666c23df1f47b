// Package slots tracks portal weeks believed to have free slots. Entries are
// hints for scheduling, never proof of availability.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/perception"
)

var ErrInvalidDate = errors.New("invalid registry date token")

type Registry interface {
	Add(ctx context.Context, country, consulate, service, date string) error
	Remove(ctx context.Context, country, consulate, service, date string) error
	HasMatch(ctx context.Context, id *identity.Identity) (bool, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	// Prune drops dates before cutoff and reports how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Snapshot is country -> consulate -> service -> ascending dates.
type Snapshot map[string]map[string]map[string][]string

// Matches reports whether any configured pair of id has recorded dates in its country.
func (s Snapshot) Matches(id *identity.Identity) bool {
	byConsulate := s[id.Country]
	if byConsulate == nil {
		return false
	}
	for _, c := range id.Combinations() {
		if len(byConsulate[c.Consulate][c.Service]) > 0 {
			return true
		}
	}
	return false
}

func (s Snapshot) put(country, consulate, service string, dates []string) {
	if s[country] == nil {
		s[country] = map[string]map[string][]string{}
	}
	if s[country][consulate] == nil {
		s[country][consulate] = map[string][]string{}
	}
	s[country][consulate][service] = dates
}

func parseToken(date string) (time.Time, error) {
	t, err := time.Parse(perception.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

type combo struct {
	country, consulate, service string
}

// Memory is the in-process registry guarded by one mutex.
type Memory struct {
	mu    sync.Mutex
	dates map[combo]map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{dates: make(map[combo]map[string]time.Time)}
}

func (m *Memory) Add(_ context.Context, country, consulate, service, date string) error {
	t, err := parseToken(date)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := combo{country, consulate, service}
	if m.dates[k] == nil {
		m.dates[k] = make(map[string]time.Time)
	}
	m.dates[k][date] = t
	return nil
}

func (m *Memory) Remove(_ context.Context, country, consulate, service, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := combo{country, consulate, service}
	set := m.dates[k]
	if set == nil {
		return nil
	}
	delete(set, date)
	if len(set) == 0 {
		delete(m.dates, k)
	}
	return nil
}

func (m *Memory) HasMatch(ctx context.Context, id *identity.Identity) (bool, error) {
	s, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return s.Matches(id), nil
}

// Snapshot copies the registry under the lock.
func (m *Memory) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Snapshot{}
	for k, set := range m.dates {
		out.put(k.country, k.consulate, k.service, sortedDates(set))
	}
	return out, nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, set := range m.dates {
		for d, t := range set {
			if t.Before(cutoff) {
				delete(set, d)
				removed++
			}
		}
		if len(set) == 0 {
			delete(m.dates, k)
		}
	}
	return removed, nil
}

func sortedDates(set map[string]time.Time) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return set[out[i]].Before(set[out[j]]) })
	return out
}
