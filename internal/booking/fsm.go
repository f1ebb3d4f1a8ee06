// Package booking implements the reservation lifecycle: which status changes
// are legal, who may trigger them, and when.
package booking

import (
	"fmt"
	"time"

	"evslots/internal/domain"
	"evslots/internal/model"
	"evslots/internal/rules"
)

// FSM holds the allowed status transitions.
type FSM struct {
	transitions map[model.BookingStatus][]model.BookingStatus
}

// NewFSM creates the reservation lifecycle table.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[model.BookingStatus][]model.BookingStatus{
			model.StatusPending:   {model.StatusApproved, model.StatusCancelled},
			model.StatusApproved:  {model.StatusCompleted, model.StatusCancelled},
			model.StatusCompleted: {},
			model.StatusCancelled: {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to model.BookingStatus) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (f *FSM) check(b *model.Booking, to model.BookingStatus) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: booking %d is already %s", domain.ErrInvalidTransition, b.ID, b.Status)
	}
	if !f.CanTransition(b.Status, to) {
		return fmt.Errorf("%w: booking %d is %s, cannot become %s", domain.ErrInvalidTransition, b.ID, b.Status, to)
	}
	return nil
}

// Machine applies guarded transitions to bookings in memory. Persisting the
// result is the caller's job.
type Machine struct {
	fsm       *FSM
	validator *rules.Validator
}

// NewMachine creates a machine using validator for the modification window.
func NewMachine(validator *rules.Validator) *Machine {
	return &Machine{fsm: NewFSM(), validator: validator}
}

// CanView reports whether p may see b.
func (m *Machine) CanView(p domain.Principal, b *model.Booking) error {
	if p.IsStaff() || b.OwnerID == p.ID {
		return nil
	}
	return fmt.Errorf("%w: booking %d belongs to another owner", domain.ErrForbidden, b.ID)
}

// Approve moves Pending to Approved. Only station staff may approve.
func (m *Machine) Approve(p domain.Principal, b *model.Booking) error {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return err
	}
	if err := m.fsm.check(b, model.StatusApproved); err != nil {
		return err
	}
	b.Status = model.StatusApproved
	return nil
}

// Cancel moves Pending or Approved to Cancelled. An Approved booking can only
// be cancelled while it is still outside the modification window.
func (m *Machine) Cancel(p domain.Principal, b *model.Booking, now time.Time) error {
	if err := m.CanView(p, b); err != nil {
		return err
	}
	if err := m.fsm.check(b, model.StatusCancelled); err != nil {
		return err
	}
	if b.Status == model.StatusApproved && !m.validator.ModificationAllowed(b.Start, now) {
		return fmt.Errorf("%w: booking %d starts in less than %s and can no longer be cancelled",
			domain.ErrInvalidTransition, b.ID, m.validator.Limits().MinAdvance)
	}
	b.Status = model.StatusCancelled
	b.CancelledBy = p.ID
	return nil
}

// Complete moves Approved to Completed after the verification token presented
// at the station was decoded to tokenBookingID and nonce.
func (m *Machine) Complete(p domain.Principal, b *model.Booking, tokenBookingID int64, nonce string, now time.Time) error {
	if err := p.Require(domain.RoleStationOperator, domain.RoleBackoffice); err != nil {
		return err
	}
	if err := m.fsm.check(b, model.StatusCompleted); err != nil {
		return err
	}
	if tokenBookingID != b.ID {
		return fmt.Errorf("%w: verification token is for booking %d, not %d", domain.ErrInvalidTransition, tokenBookingID, b.ID)
	}
	if b.VerificationNonce == "" || nonce != b.VerificationNonce {
		return fmt.Errorf("%w: verification token is not current for booking %d", domain.ErrInvalidTransition, b.ID)
	}
	if b.CompletedAt != nil {
		return fmt.Errorf("%w: verification token already redeemed", domain.ErrInvalidTransition)
	}
	b.Status = model.StatusCompleted
	done := now.UTC()
	b.CompletedAt = &done
	return nil
}

// CanModify checks whether p may reschedule b at now.
func (m *Machine) CanModify(p domain.Principal, b *model.Booking, now time.Time) error {
	if err := m.CanView(p, b); err != nil {
		return err
	}
	if !b.Status.Occupies() {
		return fmt.Errorf("%w: booking %d is %s and cannot be modified", domain.ErrInvalidTransition, b.ID, b.Status)
	}
	if !m.validator.ModificationAllowed(b.Start, now) {
		return fmt.Errorf("%w: booking %d starts in less than %s and can no longer be modified",
			domain.ErrInvalidTransition, b.ID, m.validator.Limits().MinAdvance)
	}
	return nil
}
