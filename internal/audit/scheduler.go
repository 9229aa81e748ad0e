package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maestro-ai/usage-engine/internal/store"
)

// configMetaKey is the metadata-table key holding the serialized schedule
// configuration.
const configMetaKey = "audit_config"

// ScheduleRule configures one cadence. Hour and Minute are the local trigger
// time; Weekday applies to weekly rules, Day (1-28) to monthly rules.
type ScheduleRule struct {
	Enabled bool         `json:"enabled"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
	Weekday time.Weekday `json:"weekday,omitempty"`
	Day     int          `json:"day,omitempty"`
}

// Config holds every cadence's rule.
type Config struct {
	Daily   ScheduleRule `json:"daily"`
	Weekly  ScheduleRule `json:"weekly"`
	Monthly ScheduleRule `json:"monthly"`
}

// DefaultConfig: everything disabled, triggers at 03:00 when enabled.
func DefaultConfig() Config {
	return Config{
		Daily:   ScheduleRule{Hour: 3},
		Weekly:  ScheduleRule{Hour: 3, Weekday: time.Monday},
		Monthly: ScheduleRule{Hour: 3, Day: 1},
	}
}

func (c Config) rule(typ store.ScheduleType) ScheduleRule {
	switch typ {
	case store.ScheduleWeekly:
		return c.Weekly
	case store.ScheduleMonthly:
		return c.Monthly
	default:
		return c.Daily
	}
}

var scheduleTypes = []store.ScheduleType{store.ScheduleDaily, store.ScheduleWeekly, store.ScheduleMonthly}

// Scheduler owns the audit timers. Exactly one timer is armed per enabled
// schedule type; reconfiguration always clears before re-arming so a timer
// can never be duplicated. The clock is injectable so next-occurrence
// arithmetic is testable without waiting on the wall clock.
type Scheduler struct {
	service *Service
	store   *store.Store
	clock   func() time.Time

	mu     sync.Mutex
	gen    uint64
	timers map[store.ScheduleType]*time.Timer
}

func NewScheduler(service *Service, st *store.Store) *Scheduler {
	return &Scheduler{
		service: service,
		store:   st,
		clock:   time.Now,
		timers:  make(map[store.ScheduleType]*time.Timer),
	}
}

// LoadConfig reads the persisted configuration, falling back to defaults
// when none has been saved yet.
func (s *Scheduler) LoadConfig(ctx context.Context) (Config, error) {
	raw, ok, err := s.store.GetMeta(ctx, configMetaKey)
	if err != nil {
		return Config{}, fmt.Errorf("audit: load schedule config: %w", err)
	}
	if !ok {
		return DefaultConfig(), nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("audit: decode schedule config: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists the configuration and re-arms the timers from scratch.
func (s *Scheduler) SaveConfig(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("audit: encode schedule config: %w", err)
	}
	if err := s.store.SetMeta(ctx, configMetaKey, string(raw)); err != nil {
		return err
	}
	s.ClearScheduledTimers()
	return s.ScheduleAudits(ctx)
}

// ScheduleAudits arms one timer per enabled schedule type, computing each
// next trigger instant from the current clock.
func (s *Scheduler) ScheduleAudits(ctx context.Context) error {
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return err
	}

	prev, err := s.store.ScheduleStates(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()

	for _, typ := range scheduleTypes {
		rule := cfg.rule(typ)
		state := store.ScheduleState{Type: typ, Enabled: rule.Enabled}
		if old, ok := prev[typ]; ok {
			state.LastRunAt = old.LastRunAt
			state.LastRunStatus = old.LastRunStatus
		}

		if !rule.Enabled {
			if err := s.store.PutScheduleState(ctx, state); err != nil {
				return err
			}
			continue
		}

		next := nextOccurrence(typ, rule, now)
		state.NextRunAt = &next
		if err := s.store.PutScheduleState(ctx, state); err != nil {
			return err
		}
		s.armLocked(typ, rule, next.Sub(now))
	}
	return nil
}

// ClearScheduledTimers disarms everything. Bumping the generation also
// retires any fire callback that Stop could not catch mid-run, so it will
// not re-arm itself under the old rules.
func (s *Scheduler) ClearScheduledTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for typ, timer := range s.timers {
		timer.Stop()
		delete(s.timers, typ)
	}
}

// Status returns the persisted bookkeeping for every schedule type.
func (s *Scheduler) Status(ctx context.Context) (map[store.ScheduleType]store.ScheduleState, error) {
	return s.store.ScheduleStates(ctx)
}

// ArmedTimers reports how many timers are currently live.
func (s *Scheduler) ArmedTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) armLocked(typ store.ScheduleType, rule ScheduleRule, wait time.Duration) {
	if old, ok := s.timers[typ]; ok {
		old.Stop()
	}
	gen := s.gen
	s.timers[typ] = time.AfterFunc(wait, func() { s.fire(typ, rule, gen) })
}

// fire runs one scheduled audit, persists last-run bookkeeping and re-arms
// the timer for the next occurrence. A callback from a retired generation
// still completes its audit but leaves the timers and the persisted schedule
// alone; the reconfiguration that retired it already owns both.
func (s *Scheduler) fire(typ store.ScheduleType, rule ScheduleRule, gen uint64) {
	ctx := context.Background()
	firedAt := s.clock()
	start, end := auditPeriod(typ, firedAt)

	status := "ok"
	if _, err := s.service.RunAudit(ctx, start, end); err != nil {
		status = "error: " + err.Error()
		log.Printf("audit: scheduled %s run failed: %v", typ, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	next := nextOccurrence(typ, rule, firedAt)
	state := store.ScheduleState{
		Type:          typ,
		Enabled:       true,
		LastRunAt:     &firedAt,
		LastRunStatus: status,
		NextRunAt:     &next,
	}
	if err := s.store.PutScheduleState(ctx, state); err != nil {
		log.Printf("audit: persist %s schedule state: %v", typ, err)
	}
	s.armLocked(typ, rule, next.Sub(firedAt))
}

// nextOccurrence computes the first trigger instant strictly after now.
func nextOccurrence(typ store.ScheduleType, rule ScheduleRule, now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), rule.Hour, rule.Minute, 0, 0, now.Location())

	switch typ {
	case store.ScheduleWeekly:
		days := (int(rule.Weekday) - int(now.Weekday()) + 7) % 7
		at = at.AddDate(0, 0, days)
		if !at.After(now) {
			at = at.AddDate(0, 0, 7)
		}
	case store.ScheduleMonthly:
		day := rule.Day
		if day < 1 {
			day = 1
		}
		if day > 28 {
			day = 28
		}
		at = time.Date(now.Year(), now.Month(), day, rule.Hour, rule.Minute, 0, 0, now.Location())
		if !at.After(now) {
			at = time.Date(now.Year(), now.Month()+1, day, rule.Hour, rule.Minute, 0, 0, now.Location())
		}
	default:
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
	}
	return at
}

// auditPeriod is the fully elapsed period a firing audits: the previous
// calendar day, the previous seven days, or the previous calendar month.
func auditPeriod(typ store.ScheduleType, firedAt time.Time) (time.Time, time.Time) {
	dayStart := time.Date(firedAt.Year(), firedAt.Month(), firedAt.Day(), 0, 0, 0, 0, firedAt.Location())
	end := dayStart.Add(-time.Second)

	switch typ {
	case store.ScheduleWeekly:
		return dayStart.AddDate(0, 0, -7), end
	case store.ScheduleMonthly:
		monthStart := time.Date(firedAt.Year(), firedAt.Month(), 1, 0, 0, 0, 0, firedAt.Location())
		return monthStart.AddDate(0, -1, 0), monthStart.Add(-time.Second)
	default:
		return dayStart.AddDate(0, 0, -1), end
	}
}
