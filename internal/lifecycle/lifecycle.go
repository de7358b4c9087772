package lifecycle

import (
	"errors"
	"fmt"

	"carepool/internal/domain"
)

// ErrIllegalTransition is returned for any (kind, state, event) triple not
// present in the transition tables.
var ErrIllegalTransition = errors.New("illegal transition")

// Room states.
const (
	RoomAvailable  = "available"
	RoomReserved   = "reserved"
	RoomOccupied   = "occupied"
	RoomDischarged = "discharged"
)

// Appointment slot states.
const (
	SlotOpen      = "open"
	SlotPending   = "pending"
	SlotConfirmed = "confirmed"
	SlotRejected  = "rejected"
	SlotCancelled = "cancelled"
	SlotCompleted = "completed"
)

// Derived stock statuses for countable kinds.
const (
	StockIn  = "in_stock"
	StockLow = "low_stock"
	StockOut = "out_of_stock"
)

// Decommissioned is reachable from any state via the registry, never
// through an allocation.
const Decommissioned = "decommissioned"

// Events accepted by the transition tables.
const (
	EventHold      = "hold"
	EventAdmit     = "admit"
	EventDischarge = "discharge"
	EventReady     = "ready"
	EventCancel    = "cancel"
	EventRequest   = "request"
	EventConfirm   = "confirm"
	EventReject    = "reject"
	EventExpire    = "expire"
	EventComplete  = "complete"
)

type transition struct {
	state string
	event string
}

var roomTable = map[transition]string{
	{RoomAvailable, EventHold}:     RoomReserved,
	{RoomAvailable, EventAdmit}:    RoomOccupied,
	{RoomReserved, EventAdmit}:     RoomOccupied,
	{RoomReserved, EventCancel}:    RoomAvailable,
	{RoomReserved, EventExpire}:    RoomAvailable,
	{RoomOccupied, EventDischarge}: RoomDischarged,
	{RoomDischarged, EventReady}:   RoomAvailable,
}

var slotTable = map[transition]string{
	{SlotOpen, EventRequest}:       SlotPending,
	{SlotPending, EventConfirm}:    SlotConfirmed,
	{SlotPending, EventReject}:     SlotRejected,
	{SlotPending, EventExpire}:     SlotOpen,
	{SlotPending, EventCancel}:     SlotOpen,
	{SlotConfirmed, EventCancel}:   SlotCancelled,
	{SlotConfirmed, EventComplete}: SlotCompleted,
	{SlotCancelled, EventReady}:    SlotOpen,
}

// Initial returns the state a freshly registered unit starts in.
func Initial(kind string) string {
	switch kind {
	case domain.KindRoom:
		return RoomAvailable
	case domain.KindAppointmentSlot:
		return SlotOpen
	default:
		return StockIn
	}
}

// Next validates a transition and returns the resulting state. It is a pure
// function; the coordinator applies the result inside its transaction.
// Countable kinds carry no event table: their state is derived from quantity,
// so every event maps the unit onto DerivedStockStatus by the caller and any
// explicit event here is illegal.
func Next(kind, state, event string) (string, error) {
	var table map[transition]string
	switch kind {
	case domain.KindRoom:
		table = roomTable
	case domain.KindAppointmentSlot:
		table = slotTable
	default:
		return "", fmt.Errorf("%w: kind %s has no event table", ErrIllegalTransition, kind)
	}
	next, ok := table[transition{state, event}]
	if !ok {
		return "", fmt.Errorf("%w: %s cannot %s from %s", ErrIllegalTransition, kind, event, state)
	}
	return next, nil
}

// AllocationEvent maps a successful reserve onto the unit event it implies:
// rooms are admitted (or held), slots move to pending awaiting confirmation.
func AllocationEvent(kind string, hold bool) string {
	switch kind {
	case domain.KindRoom:
		if hold {
			return EventHold
		}
		return EventAdmit
	case domain.KindAppointmentSlot:
		return EventRequest
	default:
		return ""
	}
}

// DerivedStockStatus computes the continuous status of a countable unit.
func DerivedStockStatus(remaining, reorderLevel int) string {
	switch {
	case remaining <= 0:
		return StockOut
	case remaining <= reorderLevel:
		return StockLow
	default:
		return StockIn
	}
}
