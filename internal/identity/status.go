package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrUnknownCombination      = errors.New("consulate/service not configured for identity")
)

// Record describes one status change reported by the calendar search.
type Record struct {
	Consulate string
	Service   string
	Status    Status
	Date      string // dd.mm.yyyy, optional
	Time      string // hh:mm, optional
	Comment   string
}

// StatusStore persists per identity status files: <dir>/<alias>.yaml.
type StatusStore struct {
	dir      string
	validate *validator.Validate
	log      zerolog.Logger
	mu       sync.Mutex
}

type StatusOption func(*StatusStore)

// WithStatusLog sets the logger that reports entries dropped on load.
func WithStatusLog(log zerolog.Logger) StatusOption {
	return func(s *StatusStore) { s.log = log.With().Str("component", "status_store").Logger() }
}

func NewStatusStore(dir string, opts ...StatusOption) *StatusStore {
	s := &StatusStore{dir: dir, validate: validator.New(), log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *StatusStore) path(alias string) string {
	return filepath.Join(s.dir, alias+".yaml")
}

// Load reads the status file of alias. A missing file is an empty map.
// Only booked and unavailable entries are kept: empty and pending entries
// mean pending, invalid ones are dropped with a warning.
func (s *StatusStore) Load(alias string) (StatusMap, error) {
	data, err := os.ReadFile(s.path(alias))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StatusMap{}, nil
		}
		return nil, fmt.Errorf("read status file: %w", err)
	}

	var raw StatusMap
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode status file %s: %w", alias, err)
	}
	return s.resolved(alias, raw), nil
}

func (s *StatusStore) resolved(alias string, raw StatusMap) StatusMap {
	out := StatusMap{}
	for country, consulates := range raw {
		for consulate, services := range consulates {
			for service, st := range services {
				log := s.log.With().Str("alias", alias).Str("consulate", consulate).Str("service", service).Logger()
				if st == nil || st.Status == StatusPending {
					log.Debug().Msg("status entry is pending, ignoring")
					continue
				}
				if err := s.validate.Struct(st); err != nil {
					log.Warn().Err(err).Str("status", string(st.Status)).Msg("skip invalid status entry")
					continue
				}
				out.set(country, consulate, service, st)
			}
		}
	}
	return out
}

// RecordStatus applies rec to the identity and persists the result.
// Allowed: pending->booked, pending->unavailable, booked->booked (adds another date).
func (s *StatusStore) RecordStatus(id *Identity, rec Record) error {
	if rec.Status != StatusBooked && rec.Status != StatusUnavailable {
		return fmt.Errorf("%w: cannot record %q", ErrInvalidStatusTransition, rec.Status)
	}
	if !id.configured(rec.Consulate, rec.Service) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownCombination, rec.Consulate, rec.Service)
	}

	snapshot, err := id.apply(rec)
	if err != nil {
		return err
	}
	return s.write(id.Alias, snapshot)
}

// apply records rec in memory and returns a copy of the resulting map.
func (id *Identity) apply(rec Record) (StatusMap, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	next, err := transition(id.statuses.get(id.Country, rec.Consulate, rec.Service), rec)
	if err != nil {
		return nil, err
	}
	if id.statuses == nil {
		id.statuses = StatusMap{}
	}
	id.statuses.set(id.Country, rec.Consulate, rec.Service, next)
	return id.statuses.clone(), nil
}

// HasPendingServices reports whether any combination is still unresolved.
func (s *StatusStore) HasPendingServices(id *Identity) bool {
	return id.HasPending()
}

func transition(current *ServiceStatus, rec Record) (*ServiceStatus, error) {
	entry := strings.TrimSpace(rec.Date + " " + rec.Time)

	switch {
	case current == nil && rec.Status == StatusBooked:
		next := &ServiceStatus{Status: StatusBooked, Comment: rec.Comment}
		if entry != "" {
			next.Booked = []string{entry}
		}
		return next, nil
	case current == nil && rec.Status == StatusUnavailable:
		return &ServiceStatus{Status: StatusUnavailable, Comment: rec.Comment}, nil
	case current != nil && current.Status == StatusBooked && rec.Status == StatusBooked:
		next := &ServiceStatus{
			Status:  StatusBooked,
			Booked:  append([]string(nil), current.Booked...),
			Comment: current.Comment,
		}
		if entry != "" {
			next.Booked = append(next.Booked, entry)
		}
		if rec.Comment != "" {
			next.Comment = rec.Comment
		}
		return next, nil
	default:
		from := StatusPending
		if current != nil {
			from = current.Status
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, rec.Status)
	}
}

func (s *StatusStore) write(alias string, m StatusMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure status dir: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode status file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, alias+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(alias)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

func (id *Identity) configured(consulate, service string) bool {
	for _, c := range id.Combinations() {
		if c.Consulate == consulate && c.Service == service {
			return true
		}
	}
	return false
}
