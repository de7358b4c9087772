package lifecycle

import (
	"errors"
	"testing"

	"carepool/internal/domain"
)

var roomStates = []string{RoomAvailable, RoomReserved, RoomOccupied, RoomDischarged}
var slotStates = []string{SlotOpen, SlotPending, SlotConfirmed, SlotRejected, SlotCancelled, SlotCompleted}
var allEvents = []string{
	EventHold, EventAdmit, EventDischarge, EventReady, EventCancel,
	EventRequest, EventConfirm, EventReject, EventExpire, EventComplete,
}

func TestRoomTransitionTableExhaustive(t *testing.T) {
	legal := map[[2]string]string{
		{RoomAvailable, EventHold}:     RoomReserved,
		{RoomAvailable, EventAdmit}:    RoomOccupied,
		{RoomReserved, EventAdmit}:     RoomOccupied,
		{RoomReserved, EventCancel}:    RoomAvailable,
		{RoomReserved, EventExpire}:    RoomAvailable,
		{RoomOccupied, EventDischarge}: RoomDischarged,
		{RoomDischarged, EventReady}:   RoomAvailable,
	}
	for _, state := range roomStates {
		for _, event := range allEvents {
			next, err := Next(domain.KindRoom, state, event)
			want, ok := legal[[2]string{state, event}]
			if ok {
				if err != nil {
					t.Errorf("room %s --%s--> : unexpected error %v", state, event, err)
				} else if next != want {
					t.Errorf("room %s --%s--> %s, want %s", state, event, next, want)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("room %s --%s--> %s: want illegal transition", state, event, next)
			}
		}
	}
}

func TestSlotTransitionTableExhaustive(t *testing.T) {
	legal := map[[2]string]string{
		{SlotOpen, EventRequest}:       SlotPending,
		{SlotPending, EventConfirm}:    SlotConfirmed,
		{SlotPending, EventReject}:     SlotRejected,
		{SlotPending, EventExpire}:     SlotOpen,
		{SlotPending, EventCancel}:     SlotOpen,
		{SlotConfirmed, EventCancel}:   SlotCancelled,
		{SlotConfirmed, EventComplete}: SlotCompleted,
		{SlotCancelled, EventReady}:    SlotOpen,
	}
	for _, state := range slotStates {
		for _, event := range allEvents {
			next, err := Next(domain.KindAppointmentSlot, state, event)
			want, ok := legal[[2]string{state, event}]
			if ok {
				if err != nil {
					t.Errorf("slot %s --%s--> : unexpected error %v", state, event, err)
				} else if next != want {
					t.Errorf("slot %s --%s--> %s, want %s", state, event, next, want)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("slot %s --%s--> %s: want illegal transition", state, event, next)
			}
		}
	}
}

func TestCountableKindsHaveNoEventTable(t *testing.T) {
	for _, kind := range []string{domain.KindInventorySKU, domain.KindBloodUnit} {
		for _, event := range allEvents {
			if _, err := Next(kind, StockIn, event); !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("%s accepts event %s, want illegal transition", kind, event)
			}
		}
	}
}

func TestInitialStates(t *testing.T) {
	cases := map[string]string{
		domain.KindRoom:            RoomAvailable,
		domain.KindAppointmentSlot: SlotOpen,
		domain.KindInventorySKU:    StockIn,
		domain.KindBloodUnit:       StockIn,
	}
	for kind, want := range cases {
		if got := Initial(kind); got != want {
			t.Errorf("Initial(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestDerivedStockStatus(t *testing.T) {
	cases := []struct {
		remaining, reorder int
		want               string
	}{
		{0, 10, StockOut},
		{-1, 10, StockOut},
		{1, 10, StockLow},
		{10, 10, StockLow},
		{11, 10, StockIn},
		{1, 0, StockIn},
		{0, 0, StockOut},
	}
	for _, c := range cases {
		if got := DerivedStockStatus(c.remaining, c.reorder); got != c.want {
			t.Errorf("DerivedStockStatus(%d, %d) = %s, want %s", c.remaining, c.reorder, got, c.want)
		}
	}
}

func TestAllocationEvent(t *testing.T) {
	if got := AllocationEvent(domain.KindRoom, false); got != EventAdmit {
		t.Errorf("room allocation = %s, want admit", got)
	}
	if got := AllocationEvent(domain.KindRoom, true); got != EventHold {
		t.Errorf("room hold = %s, want hold", got)
	}
	if got := AllocationEvent(domain.KindAppointmentSlot, false); got != EventRequest {
		t.Errorf("slot allocation = %s, want request", got)
	}
	if got := AllocationEvent(domain.KindInventorySKU, false); got != "" {
		t.Errorf("countable allocation = %s, want empty", got)
	}
}
