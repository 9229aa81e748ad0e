package audit

import (
	"context"
	"testing"
	"time"

	"github.com/maestro-ai/usage-engine/internal/store"
)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	svc := NewService(st, &fakeSource{totals: map[string]ModelUsage{}})
	sched := NewScheduler(svc, st)
	sched.clock = func() time.Time { return now }
	t.Cleanup(sched.ClearScheduledTimers)
	return sched, st
}

func TestNextOccurrence_Daily(t *testing.T) {
	rule := ScheduleRule{Enabled: true, Hour: 3}

	// Before today's trigger time: fires today.
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	got := nextOccurrence(store.ScheduleDaily, rule, now)
	want := time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next daily = %v, want %v", got, want)
	}

	// Past today's trigger time: rolls to tomorrow.
	now = time.Date(2026, time.March, 1, 4, 0, 0, 0, time.UTC)
	got = nextOccurrence(store.ScheduleDaily, rule, now)
	want = time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next daily = %v, want %v", got, want)
	}
}

func TestNextOccurrence_WeeklyWrapsToNextWeek(t *testing.T) {
	rule := ScheduleRule{Enabled: true, Hour: 3, Weekday: time.Monday}

	// 2026-03-01 is a Sunday; Monday 03:00 is the next day.
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	got := nextOccurrence(store.ScheduleWeekly, rule, now)
	want := time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next weekly = %v, want %v", got, want)
	}

	// On Monday after the trigger time: a full week out.
	now = time.Date(2026, time.March, 2, 5, 0, 0, 0, time.UTC)
	got = nextOccurrence(store.ScheduleWeekly, rule, now)
	want = time.Date(2026, time.March, 9, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next weekly = %v, want %v", got, want)
	}
}

func TestNextOccurrence_MonthlyWrapsToNextMonth(t *testing.T) {
	rule := ScheduleRule{Enabled: true, Hour: 3, Day: 1}

	now := time.Date(2026, time.March, 1, 4, 0, 0, 0, time.UTC)
	got := nextOccurrence(store.ScheduleMonthly, rule, now)
	want := time.Date(2026, time.April, 1, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next monthly = %v, want %v", got, want)
	}

	now = time.Date(2026, time.March, 15, 4, 0, 0, 0, time.UTC)
	got = nextOccurrence(store.ScheduleMonthly, rule, now)
	if !got.Equal(want) {
		t.Fatalf("next monthly = %v, want %v", got, want)
	}
}

func TestAuditPeriod_CoversPreviousFullPeriod(t *testing.T) {
	firedAt := time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC)

	start, end := auditPeriod(store.ScheduleDaily, firedAt)
	if !start.Equal(time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily period start = %v", start)
	}
	if !end.Equal(time.Date(2026, time.March, 9, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("daily period end = %v", end)
	}

	start, end = auditPeriod(store.ScheduleMonthly, firedAt)
	if !start.Equal(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly period start = %v", start)
	}
	if !end.Equal(time.Date(2026, time.February, 28, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("monthly period end = %v", end)
	}
}

func TestSaveConfig_ArmsExactlyOneTimerPerEnabledType(t *testing.T) {
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	sched, _ := newTestScheduler(t, now)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Daily.Enabled = true
	cfg.Weekly.Enabled = true
	if err := sched.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if got := sched.ArmedTimers(); got != 2 {
		t.Fatalf("armed timers = %d, want 2", got)
	}

	// Saving again must clear before re-arming, never stack timers.
	if err := sched.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig again: %v", err)
	}
	if got := sched.ArmedTimers(); got != 2 {
		t.Fatalf("armed timers after resave = %d, want 2", got)
	}

	status, err := sched.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	daily := status[store.ScheduleDaily]
	if !daily.Enabled || daily.NextRunAt == nil {
		t.Fatalf("daily state = %+v, want enabled with next run", daily)
	}
	if !daily.NextRunAt.Equal(time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily next run = %v, want today 03:00", daily.NextRunAt)
	}
	if monthly := status[store.ScheduleMonthly]; monthly.Enabled || monthly.NextRunAt != nil {
		t.Fatalf("monthly state = %+v, want disabled without next run", monthly)
	}
}

func TestClearScheduledTimers_DisarmsEverything(t *testing.T) {
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	sched, _ := newTestScheduler(t, now)

	cfg := DefaultConfig()
	cfg.Daily.Enabled = true
	if err := sched.SaveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if sched.ArmedTimers() != 1 {
		t.Fatalf("armed timers = %d, want 1", sched.ArmedTimers())
	}

	sched.ClearScheduledTimers()
	if sched.ArmedTimers() != 0 {
		t.Fatalf("armed timers after clear = %d, want 0", sched.ArmedTimers())
	}
}

func TestClearScheduledTimers_RetiresInFlightFire(t *testing.T) {
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	sched, _ := newTestScheduler(t, now)

	cfg := DefaultConfig()
	cfg.Daily.Enabled = true
	if err := sched.SaveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	sched.mu.Lock()
	armedGen := sched.gen
	sched.mu.Unlock()

	// The fire callback was already running when Clear stopped its timer.
	sched.ClearScheduledTimers()
	sched.fire(store.ScheduleDaily, cfg.Daily, armedGen)

	if got := sched.ArmedTimers(); got != 0 {
		t.Fatalf("armed timers after clear = %d, want 0 (stale fire re-armed)", got)
	}

	// A fire from the live generation still re-arms itself.
	if err := sched.ScheduleAudits(context.Background()); err != nil {
		t.Fatalf("ScheduleAudits: %v", err)
	}
	sched.mu.Lock()
	liveGen := sched.gen
	sched.mu.Unlock()
	sched.fire(store.ScheduleDaily, cfg.Daily, liveGen)
	if got := sched.ArmedTimers(); got != 1 {
		t.Fatalf("armed timers after live fire = %d, want 1", got)
	}
}

func TestLoadConfig_DefaultsWhenUnsaved(t *testing.T) {
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	sched, _ := newTestScheduler(t, now)

	cfg, err := sched.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Daily.Enabled || cfg.Weekly.Enabled || cfg.Monthly.Enabled {
		t.Fatalf("default config has enabled schedules: %+v", cfg)
	}
	if cfg.Daily.Hour != 3 {
		t.Fatalf("default daily hour = %d, want 3", cfg.Daily.Hour)
	}
}
