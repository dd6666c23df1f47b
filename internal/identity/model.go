package identity

import (
	"sync"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusBooked      Status = "booked"
	StatusUnavailable Status = "unavailable"
)

// BookedLayout is the format of one entry in ServiceStatus.Booked.
const BookedLayout = "02.01.2006 15:04"

// ServiceStatus is the resolved state of one (country, consulate, service) combination.
// Absent entries mean pending.
type ServiceStatus struct {
	Status  Status   `yaml:"status" validate:"required,oneof=booked unavailable"`
	Booked  []string `yaml:"booked,omitempty"`
	Comment string   `yaml:"comment,omitempty"`
}

// StatusMap is country -> consulate -> service -> status.
type StatusMap map[string]map[string]map[string]*ServiceStatus

func (m StatusMap) get(country, consulate, service string) *ServiceStatus {
	if m == nil {
		return nil
	}
	return m[country][consulate][service]
}

func (m StatusMap) set(country, consulate, service string, st *ServiceStatus) {
	if m[country] == nil {
		m[country] = map[string]map[string]*ServiceStatus{}
	}
	if m[country][consulate] == nil {
		m[country][consulate] = map[string]*ServiceStatus{}
	}
	m[country][consulate][service] = st
}

func (m StatusMap) clone() StatusMap {
	out := make(StatusMap, len(m))
	for country, consulates := range m {
		for consulate, services := range consulates {
			for service, st := range services {
				if st == nil {
					continue
				}
				cp := *st
				cp.Booked = append([]string(nil), st.Booked...)
				out.set(country, consulate, service, &cp)
			}
		}
	}
	return out
}

// Combination is one consulate/service pair the identity wants booked.
type Combination struct {
	Consulate string
	Service   string
}

type Identity struct {
	Alias       string
	KeyPath     string
	KeyPassword string

	Birthdate time.Time
	Gender    Gender

	Country    string
	Consulates []string
	Services   []string
	ForMyself  bool

	MinDate     *time.Time // absolute floor
	DaysFromNow *int       // floor relative to today

	SourceFile string

	mu       sync.RWMutex
	statuses StatusMap
}

// EarliestAllowed returns the first date the identity accepts an appointment on.
func (id *Identity) EarliestAllowed(now time.Time) time.Time {
	if id.MinDate != nil {
		return DateOf(*id.MinDate)
	}
	today := DateOf(now)
	if id.DaysFromNow != nil {
		return today.AddDate(0, 0, *id.DaysFromNow)
	}
	return today
}

// Combinations lists every consulate/service pair in configuration order.
func (id *Identity) Combinations() []Combination {
	out := make([]Combination, 0, len(id.Consulates)*len(id.Services))
	for _, c := range id.Consulates {
		for _, s := range id.Services {
			out = append(out, Combination{Consulate: c, Service: s})
		}
	}
	return out
}

// PendingCombinations lists the pairs without a resolved status.
func (id *Identity) PendingCombinations() []Combination {
	id.mu.RLock()
	defer id.mu.RUnlock()

	var out []Combination
	for _, c := range id.Combinations() {
		if id.statuses.get(id.Country, c.Consulate, c.Service) == nil {
			out = append(out, c)
		}
	}
	return out
}

func (id *Identity) HasPending() bool {
	return len(id.PendingCombinations()) > 0
}

// StatusOf returns a copy of the recorded status, or a pending status when absent.
func (id *Identity) StatusOf(consulate, service string) ServiceStatus {
	id.mu.RLock()
	defer id.mu.RUnlock()

	st := id.statuses.get(id.Country, consulate, service)
	if st == nil {
		return ServiceStatus{Status: StatusPending}
	}
	cp := *st
	cp.Booked = append([]string(nil), st.Booked...)
	return cp
}

// Statuses returns a deep copy of the status map.
func (id *Identity) Statuses() StatusMap {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.statuses.clone()
}

// SetStatuses replaces the status map; used by the loader.
func (id *Identity) SetStatuses(m StatusMap) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if m == nil {
		m = StatusMap{}
	}
	id.statuses = m
}

// DateOf truncates t to a calendar date in UTC, keeping the wall-clock day.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
