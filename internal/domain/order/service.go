package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/notify"
)

// Notifier publishes state-change events. Delivery is best-effort; the
// Notifier never returns and never blocks the mutation that triggered it.
type Notifier interface {
	Emit(ctx context.Context, eventType, entity, entityID string, topics []string, payload any)
}

// Service owns the order state machine.
type Service struct {
	repo     Repository
	notifier Notifier
}

func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// CreateInput carries the fields an ordering actor supplies.
type CreateInput struct {
	JobRole        string          `json:"job_role"`
	JobType        string          `json:"job_type"`
	Priority       string          `json:"priority"`
	PatientID      uuid.UUID       `json:"patient_id"`
	EncounterID    *uuid.UUID      `json:"encounter_id"`
	RequestPayload json.RawMessage `json:"request_payload"`
}

// Create places a new order in the ordered status.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Order, error) {
	if err := Authorize(ActionCreate, actor, nil); err != nil {
		return nil, err
	}
	if !ValidDepartment(in.JobRole) {
		return nil, apperr.Validation("unknown department %q", in.JobRole)
	}
	if in.JobType == "" {
		return nil, apperr.Validation("job_type is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !validPriorities[in.Priority] {
		return nil, apperr.Validation("invalid priority %q", in.Priority)
	}
	if len(in.RequestPayload) > 0 && !json.Valid(in.RequestPayload) {
		return nil, apperr.Validation("request_payload is not valid json")
	}

	o := &Order{
		JobRole:        in.JobRole,
		JobType:        in.JobType,
		Priority:       in.Priority,
		OrderedBy:      actor.ID,
		PatientID:      in.PatientID,
		EncounterID:    in.EncounterID,
		RequestPayload: in.RequestPayload,
		Status:         StatusOrdered,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	s.emit(ctx, "order.created", o)
	return o, nil
}

// Accept assigns the order to the acting worker.
func (s *Service) Accept(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionAccept, actor, o); err != nil {
			return err
		}
		if o.Status != StatusOrdered {
			return apperr.InvalidState("order %s cannot be accepted from status %s", o.DisplayID, o.Status)
		}
		now := time.Now().UTC()
		worker := actor.ID
		o.AssignedWorker = &worker
		o.Status = StatusAccepted
		o.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "order.accepted", o)
	return o, nil
}

// Start moves an accepted order into in_progress.
func (s *Service) Start(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionStart, actor, o); err != nil {
			return err
		}
		if o.Status != StatusAccepted {
			return apperr.InvalidState("order %s cannot be started from status %s", o.DisplayID, o.Status)
		}
		now := time.Now().UTC()
		o.Status = StatusInProgress
		o.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "order.started", o)
	return o, nil
}

// SubmitResult attaches the worker's result and moves the order to
// result_ready.
func (s *Service) SubmitResult(ctx context.Context, actor Actor, id uuid.UUID, result json.RawMessage) (*Order, error) {
	if len(result) == 0 || !json.Valid(result) {
		return nil, apperr.Validation("result payload is required and must be valid json")
	}
	o, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionSubmitResult, actor, o); err != nil {
			return err
		}
		if o.Status != StatusInProgress {
			return apperr.InvalidState("order %s cannot take a result from status %s", o.DisplayID, o.Status)
		}
		now := time.Now().UTC()
		o.ResultPayload = result
		o.Status = StatusResultReady
		o.ResultReadyAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "order.result_ready", o)
	return o, nil
}

// Confirm finalizes the result. Allowed for the ordering actor, an admin,
// or the assigned worker of a department that confirms its own results.
// Once confirmed the result payload is immutable.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID, outcome bool) (*Order, error) {
	o, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionConfirm, actor, o); err != nil {
			return err
		}
		if o.Status != StatusResultReady {
			return apperr.InvalidState("order %s cannot be confirmed from status %s", o.DisplayID, o.Status)
		}
		now := time.Now().UTC()
		o.Status = StatusConfirmed
		o.OutcomeFlag = &outcome
		o.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "order.confirmed", o)
	return o, nil
}

// Cancel ends or releases an order. The assigned worker releases the
// order back to the queue (status reverts to ordered, worker cleared); the
// ordering actor or an admin cancels it terminally, which requires a
// reason.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Order, error) {
	var released bool
	o, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionCancel, actor, o); err != nil {
			return err
		}
		if IsTerminal(o.Status) {
			return apperr.InvalidState("order %s is already %s", o.DisplayID, o.Status)
		}

		// A worker who is neither the orderer nor an admin releases the
		// work instead of cancelling the order.
		if o.AssignedTo(actor.ID) && o.OrderedBy != actor.ID && !actor.IsAdmin() {
			released = true
			o.Status = StatusOrdered
			o.AssignedWorker = nil
			o.AcceptedAt = nil
			o.StartedAt = nil
			o.ResultReadyAt = nil
			o.ResultPayload = nil
			return nil
		}

		if reason == "" {
			return apperr.Validation("cancel reason is required")
		}
		now := time.Now().UTC()
		o.Status = StatusCancelled
		o.CancelReason = &reason
		o.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released {
		s.emit(ctx, "order.released", o)
	} else {
		s.emit(ctx, "order.cancelled", o)
	}
	return o, nil
}

// SoftDelete hides an order from listings. Orders are never hard-deleted.
func (s *Service) SoftDelete(ctx context.Context, actor Actor, id uuid.UUID) error {
	_, err := s.repo.Mutate(ctx, id, func(o *Order) error {
		if err := Authorize(ActionDelete, actor, o); err != nil {
			return err
		}
		o.Deleted = true
		return nil
	})
	return err
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Order, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// GetHistory returns the transition history of one order.
func (s *Service) GetHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.History(), nil
}

func (s *Service) emit(ctx context.Context, eventType string, o *Order) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(ctx, eventType, "order", o.DisplayID,
		notify.OrderTopics(o.JobRole, o.OrderedBy), o)
}
