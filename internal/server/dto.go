package server

import (
	"thermoline/internal/domain"
	"thermoline/internal/engine"
)

// Request payloads

type ScheduleTimeRequest struct {
	Weekday int `json:"weekday" minimum:"0" maximum:"6" doc:"0 = Monday"`
	Hour    int `json:"hour" minimum:"0" maximum:"23"`
	Minute  int `json:"minute,omitempty" minimum:"0" maximum:"59"`
}

type SchedulePeriodRequest struct {
	Start ScheduleTimeRequest `json:"start"`
	End   ScheduleTimeRequest `json:"end"`
}

type MonitorRequest struct {
	Name          string                  `json:"name"`
	Status        *string                 `json:"status,omitempty" enum:"PENDING,ACTIVE,INACTIVE,FINISHED"`
	Type          string                  `json:"monitor_type" enum:"ONE_OFF,SCHEDULED"`
	ThresholdLow  *float64                `json:"threshold_low,omitempty"`
	ThresholdHigh *float64                `json:"threshold_high,omitempty"`
	ActiveFrom    *string                 `json:"active_from,omitempty" format:"date-time"`
	ActiveTo      *string                 `json:"active_to,omitempty" format:"date-time"`
	Thermometers  []string                `json:"thermometer_ids,omitempty"`
	Schedule      []SchedulePeriodRequest `json:"schedule,omitempty"`
}

func (r MonitorRequest) toInput() engine.MonitorInput {
	in := engine.MonitorInput{
		Name:          r.Name,
		Type:          domain.MonitorType(r.Type),
		ThresholdLow:  r.ThresholdLow,
		ThresholdHigh: r.ThresholdHigh,
		ActiveFrom:    r.ActiveFrom,
		ActiveTo:      r.ActiveTo,
		Thermometers:  r.Thermometers,
	}
	if r.Status != nil {
		in.Status = domain.MonitorStatus(*r.Status)
	}
	for _, p := range r.Schedule {
		in.Schedule = append(in.Schedule, domain.SchedulePeriod{
			Start: domain.ScheduleTime{Weekday: p.Start.Weekday, Hour: p.Start.Hour, Minute: p.Start.Minute},
			End:   domain.ScheduleTime{Weekday: p.End.Weekday, Hour: p.End.Hour, Minute: p.End.Minute},
		})
	}
	return in
}

type ContactRequest struct {
	Name    string `json:"name"`
	Type    string `json:"contact_type" enum:"EMAIL"`
	Contact string `json:"contact"`
}

func (r ContactRequest) toInput() engine.ContactInput {
	return engine.ContactInput{
		Name:    r.Name,
		Type:    domain.ContactType(r.Type),
		Contact: r.Contact,
	}
}

type PolicyRequest struct {
	ContactID              string `json:"contact_id"`
	Priority               int    `json:"priority"`
	EscalationDelaySeconds int    `json:"escalation_delay_seconds" minimum:"0"`
}

func (r PolicyRequest) toInput() engine.PolicyInput {
	return engine.PolicyInput{
		ContactID:              r.ContactID,
		Priority:               r.Priority,
		EscalationDelaySeconds: r.EscalationDelaySeconds,
	}
}

type IncidentStatusRequest struct {
	Status string `json:"status" enum:"ACKNOWLEDGED,RESOLVED"`
}

type ReadingRequest struct {
	ThermometerID string  `json:"thermometerId"`
	Temperature   float64 `json:"temperature"`
	Timestamp     int64   `json:"timestamp" doc:"epoch milliseconds"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type SweepResponse struct {
	Processed int `json:"processed"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only present on creation; the server stores a hash.
	Key string `json:"key,omitempty"`
}
