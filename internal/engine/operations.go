package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carepool/internal/domain"
	"carepool/internal/events"
	"carepool/internal/lifecycle"
	"carepool/internal/repo"
	"carepool/internal/threshold"
)

// applyFn mutates the reservation and its unit in memory. It returns the
// event type to record, or "" to signal a no-op that commits nothing.
type applyFn func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error)

// mutateReservation runs one reservation state change under the unit's
// version guard, retrying on concurrent writers like Allocate does.
func (e Engine) mutateReservation(ctx context.Context, reservationID, actorID string, apply applyFn) (AllocationResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.retryLimit(); attempt++ {
		result, err := e.mutateReservationOnce(ctx, reservationID, actorID, apply)
		if err == nil {
			if domain.Countable(result.Unit.Kind) {
				result.Alerts = e.evaluateAndNotify(ctx, result.Unit)
			}
			return result, nil
		}
		if errors.Is(err, repo.ErrVersionMismatch) {
			lastErr = err
			continue
		}
		return AllocationResult{}, err
	}
	return AllocationResult{}, fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

func (e Engine) mutateReservationOnce(ctx context.Context, reservationID, actorID string, apply applyFn) (AllocationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AllocationResult{}, err
	}
	defer tx.Rollback()

	res, err := e.Repo.GetReservationTx(ctx, tx, reservationID)
	if err != nil {
		return AllocationResult{}, err
	}
	u, err := e.Repo.GetUnitTx(ctx, tx, res.UnitID)
	if err != nil {
		return AllocationResult{}, err
	}
	expected := u.Version
	now := e.now().UTC()

	evtType, err := apply(&u, &res, now)
	if err != nil {
		return AllocationResult{}, err
	}
	if evtType == "" {
		return AllocationResult{Reservation: res, Unit: u}, nil
	}
	if u.Allocated > u.Capacity || u.Allocated < 0 {
		return AllocationResult{}, fmt.Errorf("%w: unit %s allocated %d of %d", ErrInternalInconsistency, u.ID, u.Allocated, u.Capacity)
	}

	if err := e.Repo.UpdateReservationStatus(ctx, tx, res.ID, res.Status, res.ReleasedAt); err != nil {
		return AllocationResult{}, err
	}
	u.UpdatedAt = now.Format(time.RFC3339)
	if err := e.Repo.UpdateUnitCAS(ctx, tx, u, expected); err != nil {
		return AllocationResult{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, u.FacilityID, "reservation", res.ID, actorID, events.EventPayload{
		"unit_id": u.ID, "status": res.Status, "unit_state": u.State,
	}); err != nil {
		return AllocationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AllocationResult{}, err
	}
	u.Version = expected + 1
	return AllocationResult{Reservation: res, Unit: u}, nil
}

// Confirm turns a pending appointment request into a booked visit.
func (e Engine) Confirm(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if u.Kind != domain.KindAppointmentSlot {
			return "", fmt.Errorf("%w: confirm applies to appointment slots, not %s", repo.ErrInvalidState, u.Kind)
		}
		if res.Status != domain.ReservationPending {
			return "", fmt.Errorf("%w: reservation is %s, not pending", repo.ErrInvalidState, res.Status)
		}
		next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventConfirm)
		if err != nil {
			return "", err
		}
		u.State = next
		res.Status = domain.ReservationActive
		return "reservation.confirmed", nil
	})
}

// Reject declines a pending appointment request and reopens the slot.
func (e Engine) Reject(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if u.Kind != domain.KindAppointmentSlot {
			return "", fmt.Errorf("%w: reject applies to appointment slots, not %s", repo.ErrInvalidState, u.Kind)
		}
		if res.Status != domain.ReservationPending {
			return "", fmt.Errorf("%w: reservation is %s, not pending", repo.ErrInvalidState, res.Status)
		}
		next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventReject)
		if err != nil {
			return "", err
		}
		u.State = next
		u.Allocated -= res.Quantity
		res.Status = domain.ReservationCancelled
		res.ReleasedAt = optionalString(now.Format(time.RFC3339))
		return "reservation.rejected", nil
	})
}

// Admit converts a room hold into an occupancy.
func (e Engine) Admit(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if u.Kind != domain.KindRoom {
			return "", fmt.Errorf("%w: admit applies to rooms, not %s", repo.ErrInvalidState, u.Kind)
		}
		if res.Status != domain.ReservationPending {
			return "", fmt.Errorf("%w: reservation is %s, not pending", repo.ErrInvalidState, res.Status)
		}
		next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventAdmit)
		if err != nil {
			return "", err
		}
		u.State = next
		res.Status = domain.ReservationActive
		return "reservation.admitted", nil
	})
}

// Release ends a claim and returns its capacity: discharge for rooms,
// visit end for slots, return to stock for countable kinds. A terminal
// reservation cannot be released again; capacity is restored exactly once.
func (e Engine) Release(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if domain.Terminal(res.Status) {
			return "", fmt.Errorf("%w: reservation is already %s", repo.ErrInvalidState, res.Status)
		}
		if err := e.releaseUnit(u, res, now); err != nil {
			return "", err
		}
		res.Status = domain.ReservationReleased
		res.ReleasedAt = optionalString(now.Format(time.RFC3339))
		return "reservation.released", nil
	})
}

// Cancel is the caller-initiated counterpart of Release and shares its
// refusal of terminal reservations.
func (e Engine) Cancel(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if domain.Terminal(res.Status) {
			return "", fmt.Errorf("%w: reservation is already %s", repo.ErrInvalidState, res.Status)
		}
		if u.Kind == domain.KindAppointmentSlot && res.Status == domain.ReservationActive {
			next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventCancel)
			if err != nil {
				return "", err
			}
			u.State = next
			u.Allocated -= res.Quantity
		} else if err := e.releaseUnit(u, res, now); err != nil {
			return "", err
		}
		res.Status = domain.ReservationCancelled
		res.ReleasedAt = optionalString(now.Format(time.RFC3339))
		return "reservation.cancelled", nil
	})
}

// Complete closes out a booked appointment once the visit happened.
func (e Engine) Complete(ctx context.Context, reservationID, actorID string) (AllocationResult, error) {
	return e.mutateReservation(ctx, reservationID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
		if u.Kind != domain.KindAppointmentSlot {
			return "", fmt.Errorf("%w: complete applies to appointment slots, not %s", repo.ErrInvalidState, u.Kind)
		}
		if res.Status != domain.ReservationActive {
			return "", fmt.Errorf("%w: reservation is %s, not active", repo.ErrInvalidState, res.Status)
		}
		next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventComplete)
		if err != nil {
			return "", err
		}
		u.State = next
		u.Allocated -= res.Quantity
		res.Status = domain.ReservationReleased
		res.ReleasedAt = optionalString(now.Format(time.RFC3339))
		return "reservation.completed", nil
	})
}

// releaseUnit applies the unit-side effect of ending a claim.
func (e Engine) releaseUnit(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) error {
	if domain.Countable(u.Kind) {
		u.Allocated -= res.Quantity
		u.State = lifecycle.DerivedStockStatus(u.Remaining(), e.reorderLevel(*u))
		return nil
	}
	event := lifecycle.EventCancel
	if res.Status == domain.ReservationActive {
		switch u.Kind {
		case domain.KindRoom:
			event = lifecycle.EventDischarge
		case domain.KindAppointmentSlot:
			// A booked visit whose window has passed completed; one
			// released early was cancelled.
			event = lifecycle.EventCancel
			if res.WindowEnd != nil && *res.WindowEnd <= now.Format(time.RFC3339) {
				event = lifecycle.EventComplete
			}
		}
	}
	next, err := lifecycle.Next(u.Kind, u.State, event)
	if err != nil {
		return err
	}
	u.State = next
	u.Allocated -= res.Quantity
	return nil
}

// MakeReady returns a discharged room or a cancelled slot to circulation
// after turnover.
func (e Engine) MakeReady(ctx context.Context, unitID, actorID string) (domain.ResourceUnit, error) {
	return e.updateUnit(ctx, unitID, actorID, "unit.ready", func(u *domain.ResourceUnit, now time.Time) error {
		next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventReady)
		if err != nil {
			return err
		}
		u.State = next
		return nil
	})
}

// Restock raises a countable unit's capacity and recomputes its status.
func (e Engine) Restock(ctx context.Context, unitID string, quantity int, expiry, actorID string) (domain.ResourceUnit, []domain.ThresholdAlert, error) {
	if quantity < 1 {
		return domain.ResourceUnit{}, nil, fmt.Errorf("invalid quantity %d", quantity)
	}
	if expiry != "" {
		if _, err := time.Parse(time.RFC3339, expiry); err != nil {
			return domain.ResourceUnit{}, nil, fmt.Errorf("invalid expiry: %w", err)
		}
	}
	u, err := e.updateUnit(ctx, unitID, actorID, "stock.restocked", func(u *domain.ResourceUnit, now time.Time) error {
		if !domain.Countable(u.Kind) {
			return fmt.Errorf("%w: restock applies to countable stock, not %s", repo.ErrInvalidState, u.Kind)
		}
		if u.State == lifecycle.Decommissioned {
			return fmt.Errorf("%w: unit %s is decommissioned", repo.ErrConflict, u.ID)
		}
		u.Capacity += quantity
		if expiry != "" {
			u.Expiry = optionalString(expiry)
		}
		u.State = lifecycle.DerivedStockStatus(u.Remaining(), e.reorderLevel(*u))
		return nil
	})
	if err != nil {
		return domain.ResourceUnit{}, nil, err
	}
	return u, e.evaluateAndNotify(ctx, u), nil
}

// Decommission takes a unit out of service for good. Refused while open
// reservations exist.
func (e Engine) Decommission(ctx context.Context, unitID, actorID string) (domain.ResourceUnit, error) {
	var lastErr error
	for attempt := 0; attempt < e.retryLimit(); attempt++ {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.ResourceUnit{}, err
		}
		u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
		if err != nil {
			tx.Rollback()
			return domain.ResourceUnit{}, err
		}
		now := e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.DecommissionUnit(ctx, tx, u.ID, u.Version, now); err != nil {
			tx.Rollback()
			if errors.Is(err, repo.ErrVersionMismatch) {
				lastErr = err
				continue
			}
			return domain.ResourceUnit{}, err
		}
		if err := e.Events.Append(ctx, tx, "unit.decommissioned", u.FacilityID, "unit", u.ID, actorID, events.EventPayload{
			"previous_state": u.State,
		}); err != nil {
			tx.Rollback()
			return domain.ResourceUnit{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.ResourceUnit{}, err
		}
		u.State = lifecycle.Decommissioned
		u.Version++
		u.UpdatedAt = now
		return u, nil
	}
	return domain.ResourceUnit{}, fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

// updateUnit runs a unit-only mutation under the version guard, with the
// same bounded retry as reservation mutations.
func (e Engine) updateUnit(ctx context.Context, unitID, actorID, evtType string, mutate func(u *domain.ResourceUnit, now time.Time) error) (domain.ResourceUnit, error) {
	var lastErr error
	for attempt := 0; attempt < e.retryLimit(); attempt++ {
		u, err := e.updateUnitOnce(ctx, unitID, actorID, evtType, mutate)
		if err == nil {
			return u, nil
		}
		if errors.Is(err, repo.ErrVersionMismatch) {
			lastErr = err
			continue
		}
		return domain.ResourceUnit{}, err
	}
	return domain.ResourceUnit{}, fmt.Errorf("%w: %v", ErrBusy, lastErr)
}

func (e Engine) updateUnitOnce(ctx context.Context, unitID, actorID, evtType string, mutate func(u *domain.ResourceUnit, now time.Time) error) (domain.ResourceUnit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResourceUnit{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return domain.ResourceUnit{}, err
	}
	expected := u.Version
	now := e.now().UTC()
	if err := mutate(&u, now); err != nil {
		return domain.ResourceUnit{}, err
	}
	u.UpdatedAt = now.Format(time.RFC3339)
	if err := e.Repo.UpdateUnitCAS(ctx, tx, u, expected); err != nil {
		return domain.ResourceUnit{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, u.FacilityID, "unit", u.ID, actorID, events.EventPayload{
		"state": u.State, "capacity": u.Capacity, "allocated": u.Allocated,
	}); err != nil {
		return domain.ResourceUnit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResourceUnit{}, err
	}
	u.Version = expected + 1
	return u, nil
}

// SweepExpired expires pending reservations older than the configured TTL
// and reopens their units. Returns the reservations it expired.
func (e Engine) SweepExpired(ctx context.Context, facilityID, actorID string) ([]domain.Reservation, error) {
	ttl := 30 * time.Minute
	if e.Config != nil && e.Config.Allocation.PendingTTLMinutes > 0 {
		ttl = time.Duration(e.Config.Allocation.PendingTTLMinutes) * time.Minute
	}
	cutoff := e.now().UTC().Add(-ttl).Format(time.RFC3339)
	stale, err := e.Repo.ListStalePending(ctx, facilityID, cutoff)
	if err != nil {
		return nil, err
	}
	var expired []domain.Reservation
	for _, res := range stale {
		result, err := e.mutateReservation(ctx, res.ID, actorID, func(u *domain.ResourceUnit, res *domain.Reservation, now time.Time) (string, error) {
			if res.Status != domain.ReservationPending {
				// Raced with a confirm or cancel; leave it alone.
				return "", nil
			}
			next, err := lifecycle.Next(u.Kind, u.State, lifecycle.EventExpire)
			if err != nil {
				return "", err
			}
			u.State = next
			u.Allocated -= res.Quantity
			res.Status = domain.ReservationExpired
			res.ReleasedAt = optionalString(now.Format(time.RFC3339))
			return "reservation.expired", nil
		})
		if err != nil {
			return expired, err
		}
		if result.Reservation.Status == domain.ReservationExpired {
			expired = append(expired, result.Reservation)
		}
	}
	return expired, nil
}

// QueryAlerts recomputes threshold levels for every countable unit in the
// facility. Read-only: it neither publishes nor touches dedup state.
func (e Engine) QueryAlerts(ctx context.Context, facilityID, kind string) ([]domain.ThresholdAlert, error) {
	units, err := e.Repo.ListUnits(ctx, repo.UnitFilters{FacilityID: facilityID, Kind: kind})
	if err != nil {
		return nil, err
	}
	now := e.now()
	cfg := e.thresholdConfig()
	var res []domain.ThresholdAlert
	for _, u := range units {
		if !domain.Countable(u.Kind) || u.State == lifecycle.Decommissioned {
			continue
		}
		res = append(res, threshold.Actionable(threshold.Evaluate(u, now, cfg))...)
	}
	return res, nil
}
