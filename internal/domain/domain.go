package domain

type MonitorStatus string

const (
	MonitorPending  MonitorStatus = "PENDING"
	MonitorActive   MonitorStatus = "ACTIVE"
	MonitorInactive MonitorStatus = "INACTIVE"
	MonitorFinished MonitorStatus = "FINISHED"
)

type MonitorType string

const (
	MonitorOneOff    MonitorType = "ONE_OFF"
	MonitorScheduled MonitorType = "SCHEDULED"
)

type IncidentStatus string

const (
	IncidentTriggered    IncidentStatus = "TRIGGERED"
	IncidentAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentResolved     IncidentStatus = "RESOLVED"
)

type ContactType string

const ContactEmail ContactType = "EMAIL"

// ThermalMonitor groups thermometers under shared thresholds and an
// active-time policy (one-shot window or weekly schedule).
type ThermalMonitor struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        MonitorStatus    `json:"status" enum:"PENDING,ACTIVE,INACTIVE,FINISHED"`
	Type          MonitorType      `json:"monitor_type" enum:"ONE_OFF,SCHEDULED"`
	ThresholdLow  *float64         `json:"threshold_low,omitempty"`
	ThresholdHigh *float64         `json:"threshold_high,omitempty"`
	ActiveFrom    *string          `json:"active_from,omitempty" format:"date-time"`
	ActiveTo      *string          `json:"active_to,omitempty" format:"date-time"`
	Thermometers  []string         `json:"thermometer_ids"`
	Schedule      []SchedulePeriod `json:"schedule,omitempty"`
	CreatedBy     string           `json:"created_by"`
	ModifiedBy    string           `json:"modified_by"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
}

// ScheduleTime is a time-of-week point, weekday 0 = Monday.
type ScheduleTime struct {
	Weekday int `json:"weekday" minimum:"0" maximum:"6"`
	Hour    int `json:"hour" minimum:"0" maximum:"23"`
	Minute  int `json:"minute" minimum:"0" maximum:"59"`
}

// Minutes collapses the triple into a single minutes-since-Monday-00:00
// key so period comparisons are a total order instead of a field chain.
func (s ScheduleTime) Minutes() int {
	return s.Weekday*24*60 + s.Hour*60 + s.Minute
}

type SchedulePeriod struct {
	ID        string       `json:"id,omitempty"`
	MonitorID string       `json:"-"`
	Start     ScheduleTime `json:"start"`
	End       ScheduleTime `json:"end"`
}

// MonitorThermometer links an external thermometer to a monitor. Archived
// links are kept so incident history survives thermometer removal.
type MonitorThermometer struct {
	ID             string `json:"id"`
	MonitorID      string `json:"monitor_id"`
	ThermometerID  string `json:"thermometer_id"`
	Archived       bool   `json:"archived"`
	LastMeasuredAt *int64 `json:"last_measured_at,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Incident records a threshold breach or a lost sensor. Temperature is
// absent for lost-sensor incidents; thresholds are snapshotted at trigger
// time so notifications describe the limits that were actually breached.
type Incident struct {
	ID                string         `json:"id"`
	MonitorID         string         `json:"monitor_id"`
	ThermometerLinkID string         `json:"thermometer_link_id"`
	ThermometerID     string         `json:"thermometer_id"`
	Status            IncidentStatus `json:"status" enum:"TRIGGERED,ACKNOWLEDGED,RESOLVED"`
	TriggeredAt       string         `json:"triggered_at" format:"date-time"`
	AcknowledgedAt    *string        `json:"acknowledged_at,omitempty" format:"date-time"`
	AcknowledgedBy    *string        `json:"acknowledged_by,omitempty"`
	ResolvedAt        *string        `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy        *string        `json:"resolved_by,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	ThresholdLow      *float64       `json:"threshold_low,omitempty"`
	ThresholdHigh     *float64       `json:"threshold_high,omitempty"`
}

// Open reports whether the incident still suppresses re-triggering.
func (i Incident) Open() bool {
	return i.Status == IncidentTriggered || i.Status == IncidentAcknowledged
}

type PagingPolicyContact struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       ContactType `json:"contact_type" enum:"EMAIL"`
	Contact    string      `json:"contact"`
	CreatedBy  string      `json:"created_by"`
	ModifiedBy string      `json:"modified_by"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
}

// PagingPolicy is one step of a monitor's escalation chain. Policies fire
// in (priority, escalation delay) order.
type PagingPolicy struct {
	ID                     string `json:"id"`
	MonitorID              string `json:"monitor_id"`
	ContactID              string `json:"contact_id"`
	Priority               int    `json:"priority"`
	EscalationDelaySeconds int    `json:"escalation_delay_seconds" minimum:"0"`
	CreatedBy              string `json:"created_by"`
	ModifiedBy             string `json:"modified_by"`
	CreatedAt              string `json:"created_at" format:"date-time"`
}

// PagedPolicy is the append-only record that a policy fired for an
// incident. At most one row exists per (incident, policy) pair.
type PagedPolicy struct {
	ID         string `json:"id"`
	IncidentID string `json:"incident_id"`
	PolicyID   string `json:"policy_id"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
