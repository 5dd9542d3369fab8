package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/repo"
)

// Contacts

type ContactInput struct {
	Name    string
	Type    domain.ContactType
	Contact string
}

func validateContact(in ContactInput) error {
	if in.Name == "" {
		return validationf("contact name is required")
	}
	if in.Type != domain.ContactEmail {
		return validationf("unknown contact type %q", in.Type)
	}
	if in.Contact == "" {
		return validationf("contact address is required")
	}
	return nil
}

func (e Engine) CreateContact(ctx context.Context, in ContactInput, actorID string) (domain.PagingPolicyContact, error) {
	if err := validateContact(in); err != nil {
		return domain.PagingPolicyContact{}, err
	}
	contact := domain.PagingPolicyContact{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Type:       in.Type,
		Contact:    in.Contact,
		CreatedBy:  actorID,
		ModifiedBy: actorID,
		CreatedAt:  e.nowString(),
	}
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertContact(ctx, contact); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "contact.create", "contact", contact.ID, actorID, events.EventPayload{
			"name": contact.Name,
		})
	})
	if err != nil {
		return domain.PagingPolicyContact{}, err
	}
	return contact, nil
}

func (e Engine) GetContact(ctx context.Context, id string) (domain.PagingPolicyContact, error) {
	return e.Repo.GetContact(ctx, id)
}

func (e Engine) ListContacts(ctx context.Context) ([]domain.PagingPolicyContact, error) {
	return e.Repo.ListContacts(ctx)
}

func (e Engine) UpdateContact(ctx context.Context, id string, in ContactInput, actorID string) (domain.PagingPolicyContact, error) {
	if err := validateContact(in); err != nil {
		return domain.PagingPolicyContact{}, err
	}
	var out domain.PagingPolicyContact
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		contact, err := r.GetContact(ctx, id)
		if err != nil {
			return err
		}
		contact.Name = in.Name
		contact.Type = in.Type
		contact.Contact = in.Contact
		contact.ModifiedBy = actorID
		if err := r.UpdateContact(ctx, contact); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "contact.update", "contact", id, actorID, nil); err != nil {
			return err
		}
		out = contact
		return nil
	})
	if err != nil {
		return domain.PagingPolicyContact{}, err
	}
	return out, nil
}

// DeleteContact removes a contact together with every paging policy that
// references it and those policies' firing records.
func (e Engine) DeleteContact(ctx context.Context, id, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetContact(ctx, id); err != nil {
			return err
		}
		policies, err := r.ListPoliciesByContact(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range policies {
			if err := r.DeletePagedByPolicy(ctx, p.ID); err != nil {
				return err
			}
			if err := r.DeletePolicy(ctx, p.ID); err != nil {
				return err
			}
		}
		if err := r.DeleteContact(ctx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "contact.delete", "contact", id, actorID, nil)
	})
}

// Paging policies

type PolicyInput struct {
	ContactID              string
	Priority               int
	EscalationDelaySeconds int
}

func validatePolicy(in PolicyInput) error {
	if in.ContactID == "" {
		return validationf("policy contact id is required")
	}
	if in.EscalationDelaySeconds < 0 {
		return validationf("escalation delay cannot be negative")
	}
	return nil
}

func (e Engine) CreatePolicy(ctx context.Context, monitorID string, in PolicyInput, actorID string) (domain.PagingPolicy, error) {
	if err := validatePolicy(in); err != nil {
		return domain.PagingPolicy{}, err
	}
	var out domain.PagingPolicy
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetMonitor(ctx, monitorID); err != nil {
			return err
		}
		if _, err := r.GetContact(ctx, in.ContactID); err != nil {
			return err
		}
		policy := domain.PagingPolicy{
			ID:                     uuid.NewString(),
			MonitorID:              monitorID,
			ContactID:              in.ContactID,
			Priority:               in.Priority,
			EscalationDelaySeconds: in.EscalationDelaySeconds,
			CreatedBy:              actorID,
			ModifiedBy:             actorID,
			CreatedAt:              e.nowString(),
		}
		if err := r.InsertPolicy(ctx, policy); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "policy.create", "policy", policy.ID, actorID, events.EventPayload{
			"monitor_id": monitorID, "priority": policy.Priority,
		}); err != nil {
			return err
		}
		out = policy
		return nil
	})
	if err != nil {
		return domain.PagingPolicy{}, err
	}
	return out, nil
}

func (e Engine) GetPolicy(ctx context.Context, monitorID, id string) (domain.PagingPolicy, error) {
	policy, err := e.Repo.GetPolicy(ctx, id)
	if err != nil {
		return domain.PagingPolicy{}, err
	}
	if policy.MonitorID != monitorID {
		return domain.PagingPolicy{}, repo.ErrNotFound
	}
	return policy, nil
}

func (e Engine) ListPolicies(ctx context.Context, monitorID string) ([]domain.PagingPolicy, error) {
	return e.Repo.ListPoliciesByMonitor(ctx, monitorID)
}

func (e Engine) UpdatePolicy(ctx context.Context, monitorID, id string, in PolicyInput, actorID string) (domain.PagingPolicy, error) {
	if err := validatePolicy(in); err != nil {
		return domain.PagingPolicy{}, err
	}
	var out domain.PagingPolicy
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		policy, err := r.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if policy.MonitorID != monitorID {
			return repo.ErrNotFound
		}
		if _, err := r.GetContact(ctx, in.ContactID); err != nil {
			return err
		}
		policy.ContactID = in.ContactID
		policy.Priority = in.Priority
		policy.EscalationDelaySeconds = in.EscalationDelaySeconds
		policy.ModifiedBy = actorID
		if err := r.UpdatePolicy(ctx, policy); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "policy.update", "policy", id, actorID, nil); err != nil {
			return err
		}
		out = policy
		return nil
	})
	if err != nil {
		return domain.PagingPolicy{}, err
	}
	return out, nil
}

// DeletePolicy removes a policy and its firing records. Removing a
// mid-chain policy shifts later steps up; incidents already past it keep
// their recorded pages.
func (e Engine) DeletePolicy(ctx context.Context, monitorID, id, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		policy, err := r.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if policy.MonitorID != monitorID {
			return repo.ErrNotFound
		}
		if err := r.DeletePagedByPolicy(ctx, id); err != nil {
			return err
		}
		if err := r.DeletePolicy(ctx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "policy.delete", "policy", id, actorID, nil)
	})
}
