package domain

import (
	"fmt"
	"time"

	apperrors "github.com/acme/number-provisioning/pkg/errors"
)

// transitions is the legal status transition table. Cancellation is handled
// separately because any non-cancelled state may cancel.
var transitions = map[NumberStatus][]NumberStatus{
	NumberStatusPending:      {NumberStatusProvisioning, NumberStatusFailed},
	NumberStatusProvisioning: {NumberStatusProvisioning, NumberStatusActive, NumberStatusFailed},
	NumberStatusActive:       {NumberStatusSuspended, NumberStatusFailed},
	NumberStatusSuspended:    {NumberStatusActive, NumberStatusFailed},
	NumberStatusFailed:       {NumberStatusProvisioning},
	NumberStatusCancelled:    {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to NumberStatus) bool {
	if to == NumberStatusCancelled {
		return true
	}
	if from == NumberStatusCancelled {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to NumberStatus) error {
	return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, from, to)
}

// MarkProvisioning moves the number into the provisioning state ahead of a
// provider call. Re-entering provisioning on a retry attempt is legal.
func (n *PurchasedNumber) MarkProvisioning(now time.Time) error {
	if !CanTransition(n.Status, NumberStatusProvisioning) {
		return invalidTransition(n.Status, NumberStatusProvisioning)
	}
	n.Status = NumberStatusProvisioning
	n.UpdatedAt = now
	return nil
}

// Activate records a successful provisioning outcome: the provider id is
// stored, the number becomes active and any previous error is cleared.
func (n *PurchasedNumber) Activate(providerID string, now time.Time) error {
	if !CanTransition(n.Status, NumberStatusActive) {
		return invalidTransition(n.Status, NumberStatusActive)
	}
	n.Status = NumberStatusActive
	n.ProviderID = &providerID
	n.IsActive = true
	n.LastError = nil
	if n.ActivatedAt == nil {
		t := now
		n.ActivatedAt = &t
	}
	n.UpdatedAt = now
	return nil
}

// Suspend moves an active number into the suspended state. Callable from both
// the queue processor and webhook ingestion.
func (n *PurchasedNumber) Suspend(now time.Time) error {
	if !CanTransition(n.Status, NumberStatusSuspended) {
		return invalidTransition(n.Status, NumberStatusSuspended)
	}
	n.Status = NumberStatusSuspended
	n.IsActive = false
	n.UpdatedAt = now
	return nil
}

// Reactivate returns a suspended number to service.
func (n *PurchasedNumber) Reactivate(now time.Time) error {
	if n.Status != NumberStatusSuspended {
		return invalidTransition(n.Status, NumberStatusActive)
	}
	n.Status = NumberStatusActive
	n.IsActive = true
	n.UpdatedAt = now
	return nil
}

// Cancel terminates the number. Cancelling an already-cancelled number is a
// no-op success, never an error.
func (n *PurchasedNumber) Cancel(now time.Time) error {
	if n.Status == NumberStatusCancelled {
		return nil
	}
	n.Status = NumberStatusCancelled
	n.IsActive = false
	n.UpdatedAt = now
	return nil
}

// MarkFailed records a terminal provisioning failure with its reason.
func (n *PurchasedNumber) MarkFailed(reason string, now time.Time) error {
	if !CanTransition(n.Status, NumberStatusFailed) {
		return invalidTransition(n.Status, NumberStatusFailed)
	}
	n.Status = NumberStatusFailed
	n.IsActive = false
	n.LastError = &reason
	n.UpdatedAt = now
	return nil
}

// ResetForRetry prepares a failed number for a fresh provisioning cycle.
func (n *PurchasedNumber) ResetForRetry(now time.Time) error {
	if n.Status != NumberStatusFailed {
		return invalidTransition(n.Status, NumberStatusPending)
	}
	n.Status = NumberStatusPending
	n.Attempts = 0
	n.LastError = nil
	n.UpdatedAt = now
	return nil
}
