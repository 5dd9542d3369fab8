package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"thermoline/internal/config"
	"thermoline/internal/db"
	"thermoline/internal/domain"
	"thermoline/internal/engine"
	"thermoline/internal/lookup"
	"thermoline/internal/migrate"
	"thermoline/internal/repo"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	Sent []sentMail
	Fail bool
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	if m.Fail {
		return errors.New("smtp down")
	}
	m.Sent = append(m.Sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

type testEnv struct {
	Engine engine.Engine
	Mailer *captureMailer
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) Advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env testEnv) SetNow(t time.Time) {
	*env.clock = t
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	// Monday 09:00 UTC
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := &start
	eng.Now = func() time.Time { return *clock }
	eng.Events.Now = eng.Now
	mailer := &captureMailer{}
	eng.Mailer = mailer
	eng.Lookup = lookup.Static{}
	return testEnv{Engine: eng, Mailer: mailer, Ctx: context.Background(), clock: clock}
}

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }

// seedMonitor creates an ACTIVE one-off monitor with the given thresholds
// and a single thermometer.
func seedMonitor(t *testing.T, env testEnv, low, high *float64, thermometerID string) domain.ThermalMonitor {
	t.Helper()
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name:          "cold chain",
		Type:          domain.MonitorOneOff,
		Status:        domain.MonitorActive,
		ThresholdLow:  low,
		ThresholdHigh: high,
		Thermometers:  []string{thermometerID},
	}, "tester")
	if err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	return monitor
}

func openIncidents(t *testing.T, env testEnv, monitorID string) []domain.Incident {
	t.Helper()
	incidents, err := env.Engine.ListIncidents(env.Ctx, repo.IncidentFilter{MonitorID: monitorID})
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	return incidents
}

func TestBreachOpensSingleIncident(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, floatPtr(-50), floatPtr(50), "therm-1")

	reading := engine.Reading{ThermometerID: "therm-1", Temperature: 60, Timestamp: env.Engine.Now().UnixMilli()}
	if err := env.Engine.HandleReading(env.Ctx, reading); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
	incidents := openIncidents(t, env, monitor.ID)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	in := incidents[0]
	if in.Status != domain.IncidentTriggered {
		t.Fatalf("status = %s", in.Status)
	}
	if in.Temperature == nil || *in.Temperature != 60 {
		t.Fatalf("temperature not recorded: %+v", in.Temperature)
	}
	if in.ThresholdLow == nil || *in.ThresholdLow != -50 || in.ThresholdHigh == nil || *in.ThresholdHigh != 50 {
		t.Fatalf("thresholds not snapshotted: %+v", in)
	}

	// second breaching reading while the incident is open: no new incident
	env.Advance(time.Minute)
	reading = engine.Reading{ThermometerID: "therm-1", Temperature: 61, Timestamp: env.Engine.Now().UnixMilli()}
	if err := env.Engine.HandleReading(env.Ctx, reading); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 1 {
		t.Fatalf("expected still 1 incident, got %d", len(got))
	}
}

func TestThresholdSnapshotSurvivesReconfiguration(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, floatPtr(2), floatPtr(8), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 12, Timestamp: env.Engine.Now().UnixMilli()}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.UpdateMonitor(env.Ctx, monitor.ID, engine.MonitorInput{
		Name:          monitor.Name,
		Type:          monitor.Type,
		Status:        monitor.Status,
		ThresholdLow:  floatPtr(-20),
		ThresholdHigh: floatPtr(20),
		Thermometers:  []string{"therm-1"},
	}, "tester")
	if err != nil {
		t.Fatalf("update monitor: %v", err)
	}
	incidents := openIncidents(t, env, monitor.ID)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	if *incidents[0].ThresholdHigh != 8 {
		t.Fatalf("snapshot lost: high = %v", *incidents[0].ThresholdHigh)
	}
}

func TestReadingWithinThresholds(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, floatPtr(-50), floatPtr(50), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 20, Timestamp: 1234}); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 0 {
		t.Fatalf("expected no incidents, got %d", len(got))
	}
	links, err := env.Engine.Repo.ListThermometers(env.Ctx, repo.ThermometerFilter{MonitorID: monitor.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].LastMeasuredAt == nil || *links[0].LastMeasuredAt != 1234 {
		t.Fatalf("last_measured_at not updated: %+v", links)
	}
}

func TestReadingIgnoredOnInactiveMonitor(t *testing.T) {
	env := newTestEnv(t)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name:          "weekday watch",
		Type:          domain.MonitorScheduled,
		Status:        domain.MonitorInactive,
		ThresholdHigh: floatPtr(10),
		Thermometers:  []string{"therm-1"},
		Schedule: []domain.SchedulePeriod{{
			Start: domain.ScheduleTime{Weekday: 0, Hour: 8},
			End:   domain.ScheduleTime{Weekday: 0, Hour: 17},
		}},
	}, "tester")
	if err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 99, Timestamp: 1}); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 0 {
		t.Fatalf("inactive monitor must not trigger, got %d incidents", len(got))
	}
	links, err := env.Engine.Repo.ListThermometers(env.Ctx, repo.ThermometerFilter{MonitorID: monitor.ID})
	if err != nil {
		t.Fatal(err)
	}
	if links[0].LastMeasuredAt != nil {
		t.Fatalf("inactive link must not update last_measured_at")
	}
}

func TestNoThresholdsNeverBreach(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, nil, "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 500, Timestamp: 1}); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
	if got := openIncidents(t, env, monitor.ID); len(got) != 0 {
		t.Fatalf("monitor without thresholds must never breach")
	}
}

func TestIncidentStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(10), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	incident := openIncidents(t, env, monitor.ID)[0]

	acked, err := env.Engine.AcknowledgeIncident(env.Ctx, incident.ID, "oncall")
	if err != nil || acked.Status != domain.IncidentAcknowledged {
		t.Fatalf("acknowledge: %v (%+v)", err, acked)
	}
	if acked.AcknowledgedAt == nil || acked.AcknowledgedBy == nil || *acked.AcknowledgedBy != "oncall" {
		t.Fatalf("acknowledgement audit missing: %+v", acked)
	}
	// acknowledging again is a no-op
	again, err := env.Engine.AcknowledgeIncident(env.Ctx, incident.ID, "oncall-2")
	if err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	if *again.AcknowledgedBy != "oncall" {
		t.Fatalf("second acknowledge must not overwrite: %+v", again)
	}
	// re-entering TRIGGERED is forbidden
	if _, err := env.Engine.UpdateIncidentStatus(env.Ctx, incident.ID, domain.IncidentTriggered, "oncall"); err == nil {
		t.Fatalf("expected state error for TRIGGERED re-entry")
	}

	resolved, err := env.Engine.ResolveIncident(env.Ctx, incident.ID, "oncall")
	if err != nil || resolved.Status != domain.IncidentResolved {
		t.Fatalf("resolve: %v", err)
	}
	// RESOLVED is terminal
	if _, err := env.Engine.AcknowledgeIncident(env.Ctx, incident.ID, "oncall"); err == nil {
		t.Fatalf("expected state error on resolved incident")
	}
	var stateErr engine.StateError
	_, err = env.Engine.ResolveIncident(env.Ctx, incident.ID, "oncall")
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestResolveDirectlyFromTriggered(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(10), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	incident := openIncidents(t, env, monitor.ID)[0]
	resolved, err := env.Engine.ResolveIncident(env.Ctx, incident.ID, "oncall")
	if err != nil || resolved.Status != domain.IncidentResolved {
		t.Fatalf("resolve from triggered: %v", err)
	}
	if resolved.AcknowledgedAt != nil {
		t.Fatalf("skipping acknowledgement must not fabricate one")
	}
}

func TestResolutionReleasesSuppression(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(10), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	first := openIncidents(t, env, monitor.ID)[0]
	if _, err := env.Engine.ResolveIncident(env.Ctx, first.ID, "oncall"); err != nil {
		t.Fatal(err)
	}
	env.Advance(time.Minute)
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 21, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	incidents := openIncidents(t, env, monitor.ID)
	if len(incidents) != 2 {
		t.Fatalf("expected a fresh incident after resolution, got %d", len(incidents))
	}
}

func TestMonitorValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		in   engine.MonitorInput
	}{
		{"one-off with schedule", engine.MonitorInput{
			Name: "m", Type: domain.MonitorOneOff,
			Schedule: []domain.SchedulePeriod{{End: domain.ScheduleTime{Hour: 1}}},
		}},
		{"one-off inactive", engine.MonitorInput{
			Name: "m", Type: domain.MonitorOneOff, Status: domain.MonitorInactive,
		}},
		{"scheduled without periods", engine.MonitorInput{
			Name: "m", Type: domain.MonitorScheduled,
		}},
		{"scheduled pending", engine.MonitorInput{
			Name: "m", Type: domain.MonitorScheduled, Status: domain.MonitorPending,
			Schedule: []domain.SchedulePeriod{{End: domain.ScheduleTime{Hour: 1}}},
		}},
		{"scheduled with active window", engine.MonitorInput{
			Name: "m", Type: domain.MonitorScheduled, ActiveFrom: strPtr("2026-03-02T00:00:00Z"),
			Schedule: []domain.SchedulePeriod{{End: domain.ScheduleTime{Hour: 1}}},
		}},
		{"bad hour", engine.MonitorInput{
			Name: "m", Type: domain.MonitorScheduled,
			Schedule: []domain.SchedulePeriod{{Start: domain.ScheduleTime{Hour: 24}, End: domain.ScheduleTime{Weekday: 1}}},
		}},
		{"period ends before start", engine.MonitorInput{
			Name: "m", Type: domain.MonitorScheduled,
			Schedule: []domain.SchedulePeriod{{
				Start: domain.ScheduleTime{Weekday: 2, Hour: 10},
				End:   domain.ScheduleTime{Weekday: 2, Hour: 9},
			}},
		}},
		{"inverted thresholds", engine.MonitorInput{
			Name: "m", Type: domain.MonitorOneOff,
			ThresholdLow: floatPtr(10), ThresholdHigh: floatPtr(-10),
		}},
		{"missing name", engine.MonitorInput{Type: domain.MonitorOneOff}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateMonitor(env.Ctx, tc.in, "tester")
			var vErr engine.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateArchivesRemovedThermometers(t *testing.T) {
	env := newTestEnv(t)
	monitor, err := env.Engine.CreateMonitor(env.Ctx, engine.MonitorInput{
		Name: "m", Type: domain.MonitorOneOff, Status: domain.MonitorActive,
		ThresholdHigh: floatPtr(10),
		Thermometers:  []string{"therm-1", "therm-2"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-2", Temperature: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	updated, err := env.Engine.UpdateMonitor(env.Ctx, monitor.ID, engine.MonitorInput{
		Name: "m", Type: domain.MonitorOneOff, Status: domain.MonitorActive,
		ThresholdHigh: floatPtr(10),
		Thermometers:  []string{"therm-1"},
	}, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Thermometers) != 1 || updated.Thermometers[0] != "therm-1" {
		t.Fatalf("thermometers = %v", updated.Thermometers)
	}
	// incident history of the archived link survives
	incidents := openIncidents(t, env, monitor.ID)
	if len(incidents) != 1 || incidents[0].ThermometerID != "therm-2" {
		t.Fatalf("archived link incident lost: %+v", incidents)
	}
	// archived link no longer receives readings
	if _, err := env.Engine.ResolveIncident(env.Ctx, incidents[0].ID, "oncall"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-2", Temperature: 30, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	incidents = openIncidents(t, env, monitor.ID)
	if len(incidents) != 1 {
		t.Fatalf("archived link must not trigger, got %d incidents", len(incidents))
	}
}

func TestDeleteMonitorOnlyInTestEnv(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(10), "therm-1")
	if err := env.Engine.DeleteMonitor(env.Ctx, monitor.ID, "tester"); err == nil {
		t.Fatalf("expected delete to be rejected outside TEST")
	}
	env.Engine.Config.Env = "TEST"
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteMonitor(env.Ctx, monitor.ID, "tester"); err != nil {
		t.Fatalf("delete in TEST: %v", err)
	}
	if _, err := env.Engine.GetMonitor(env.Ctx, monitor.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("monitor still present: %v", err)
	}
	incidents, err := env.Engine.ListIncidents(env.Ctx, repo.IncidentFilter{MonitorID: monitor.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Fatalf("incidents not cascaded: %d", len(incidents))
	}
}

func TestIncidentTimeFiltersWithZoneOffset(t *testing.T) {
	env := newTestEnv(t)
	monitor := seedMonitor(t, env, nil, floatPtr(8), "therm-1")
	if err := env.Engine.HandleReading(env.Ctx, engine.Reading{ThermometerID: "therm-1", Temperature: 12, Timestamp: env.Engine.Now().UnixMilli()}); err != nil {
		t.Fatal(err)
	}

	// one minute before the trigger, rendered with a +02:00 offset
	zone := time.FixedZone("EET", 2*60*60)
	after := env.Engine.Now().Add(-time.Minute).In(zone).Format(time.RFC3339)
	incidents, err := env.Engine.ListIncidents(env.Ctx, repo.IncidentFilter{MonitorID: monitor.ID, After: after})
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("offset triggered_after filter dropped the incident: %d", len(incidents))
	}

	before := env.Engine.Now().Add(-time.Minute).In(zone).Format(time.RFC3339)
	incidents, err = env.Engine.ListIncidents(env.Ctx, repo.IncidentFilter{MonitorID: monitor.ID, Before: before})
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Fatalf("offset triggered_before filter kept the incident: %d", len(incidents))
	}

	if _, err := env.Engine.ListIncidents(env.Ctx, repo.IncidentFilter{MonitorID: monitor.ID, After: "not-a-time"}); err == nil {
		t.Fatal("expected rejection of malformed triggered_after")
	}
}
