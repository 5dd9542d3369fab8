package engine_test

import (
	"testing"
	"time"

	"thermoline/internal/domain"
	"thermoline/internal/engine"
)

func TestLostSensorOpensIncident(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, floatPtr(-20), floatPtr(20), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{
		ThermometerID: "therm-1", Temperature: 5, Timestamp: env.Engine.Now().UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	// still within the 60 minute timeout
	env.Advance(30 * time.Minute)
	opened, err := env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if opened != 0 {
		t.Fatalf("sweep opened %d incidents before timeout", opened)
	}

	env.Advance(31 * time.Minute)
	opened, err = env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if opened != 1 {
		t.Fatalf("sweep opened %d incidents, want 1", opened)
	}
	incidents := openIncidents(t, env, monitor.ID)
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d", len(incidents))
	}
	in := incidents[0]
	if in.Temperature != nil || in.ThresholdLow != nil || in.ThresholdHigh != nil {
		t.Fatalf("lost-sensor incident must not carry a reading: %+v", in)
	}

	// the open incident suppresses the next sweep
	env.Advance(time.Hour)
	opened, err = env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if opened != 0 {
		t.Fatalf("suppression failed, opened %d", opened)
	}

	// after resolution the still-silent sensor triggers again
	if _, err := env.Engine.ResolveIncident(env.Ctx, in.ID, "oncall"); err != nil {
		t.Fatal(err)
	}
	opened, err = env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if opened != 1 {
		t.Fatalf("resolved sensor did not re-trigger, opened %d", opened)
	}
}

func TestLostSensorNeverMeasured(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(20), "therm-1")
	env.Advance(61 * time.Minute)
	opened, err := env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if opened != 1 {
		t.Fatalf("never-measured sensor not detected, opened %d", opened)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 1 {
		t.Fatalf("incidents = %d", len(got))
	}
}

func TestLostSensorSkipsInactiveMonitors(t *testing.T) {
	env := newTestEnv(t)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "m", Type: domain.MonitorScheduled, Status: domain.MonitorInactive,
		ThresholdHigh: floatPtr(20),
		Thermometers:  []string{"therm-1"},
		Schedule: []domain.SchedulePeriod{{
			Start: domain.ScheduleTime{Weekday: 0, Hour: 8},
			End:   domain.ScheduleTime{Weekday: 0, Hour: 17},
		}},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.Advance(2 * time.Hour)
	opened, err := env.Engine.CreateLostSensorIncidents(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if opened != 0 {
		t.Fatalf("inactive monitor swept, opened %d", opened)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 0 {
		t.Fatalf("incidents = %d", len(got))
	}
}

func TestOneOffLifecycle(t *testing.T) {
	env := newTestEnv(t)
	from := env.Engine.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	to := env.Engine.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "delivery run", Type: domain.MonitorOneOff,
		ThresholdHigh: floatPtr(8),
		ActiveFrom:    &from,
		ActiveTo:      &to,
		Thermometers:  []string{"therm-1"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if monitor.Status != domain.MonitorPending {
		t.Fatalf("default status = %s", monitor.Status)
	}

	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorPending {
		t.Fatalf("activated before window: %s", got.Status)
	}

	env.Advance(61 * time.Minute)
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("not activated inside window: %s", got.Status)
	}

	env.Advance(61 * time.Minute)
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorFinished {
		t.Fatalf("not finished past window: %s", got.Status)
	}
}

func TestOneOffWindowWithZoneOffset(t *testing.T) {
	env := newTestEnv(t)
	// same instant as the clock, rendered with a +03:00 offset
	zone := time.FixedZone("EEST", 3*60*60)
	from := env.Engine.Now().In(zone).Format(time.RFC3339)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "import run", Type: domain.MonitorOneOff,
		ThresholdHigh: floatPtr(8),
		ActiveFrom:    &from,
		Thermometers:  []string{"therm-1"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	// the window start is stored canonically in UTC
	if monitor.ActiveFrom == nil || *monitor.ActiveFrom != env.Engine.Now().UTC().Format(time.RFC3339) {
		t.Fatalf("active_from not normalized: %v", monitor.ActiveFrom)
	}
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("elapsed offset window not activated: %s", got.Status)
	}
}

func TestOneOffWithoutWindowActivatesImmediately(t *testing.T) {
	env := newTestEnv(t)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "ad hoc", Type: domain.MonitorOneOff,
		ThresholdHigh: floatPtr(8),
		Thermometers:  []string{"therm-1"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("windowless one-off should activate on first sweep, got %s", got.Status)
	}
	// without an end it stays active
	env.Advance(24 * time.Hour)
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("open-ended one-off finished: %s", got.Status)
	}
}

func TestScheduledMonitorToggles(t *testing.T) {
	env := newTestEnv(t)
	// Monday 08:00 - 17:00; the test clock starts Monday 09:00
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "weekday watch", Type: domain.MonitorScheduled,
		ThresholdHigh: floatPtr(8),
		Thermometers:  []string{"therm-1"},
		Schedule: []domain.SchedulePeriod{{
			Start: domain.ScheduleTime{Weekday: 0, Hour: 8},
			End:   domain.ScheduleTime{Weekday: 0, Hour: 17},
		}},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if monitor.Status != domain.MonitorInactive {
		t.Fatalf("default status = %s", monitor.Status)
	}

	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("not activated inside period: %s", got.Status)
	}

	// Monday 18:00 is outside the period
	env.SetNow(time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC))
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorInactive {
		t.Fatalf("not deactivated outside period: %s", got.Status)
	}

	// next Monday 08:00 sharp: period bounds are inclusive
	env.SetNow(time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC))
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("inclusive start not honored: %s", got.Status)
	}
}

func TestSchedulePeriodSpanningDays(t *testing.T) {
	env := newTestEnv(t)
	// Friday 22:00 through Sunday 06:00
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "weekend cold room", Type: domain.MonitorScheduled,
		ThresholdHigh: floatPtr(4),
		Thermometers:  []string{"therm-1"},
		Schedule: []domain.SchedulePeriod{{
			Start: domain.ScheduleTime{Weekday: 4, Hour: 22},
			End:   domain.ScheduleTime{Weekday: 6, Hour: 6},
		}},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	// Saturday 03:00 falls inside
	env.SetNow(time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC))
	if err := env.Engine.ResolveMonitorStatuses(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetMonitor(env.Ctx, monitor.ID)
	if got.Status != domain.MonitorActive {
		t.Fatalf("cross-day period not covered: %s", got.Status)
	}
}
