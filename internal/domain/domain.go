package domain

// Unit kinds.
const (
	KindRoom            = "room"
	KindInventorySKU    = "inventory_sku"
	KindBloodUnit       = "blood_unit"
	KindAppointmentSlot = "appointment_slot"
)

// SingleOccupancy reports whether a kind admits at most one active
// reservation per unit.
func SingleOccupancy(kind string) bool {
	return kind == KindRoom || kind == KindAppointmentSlot
}

// Countable reports whether a kind tracks a quantity instead of a
// discrete per-unit state.
func Countable(kind string) bool {
	return kind == KindInventorySKU || kind == KindBloodUnit
}

type Facility struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ResourceUnit is one allocatable thing: a room, an inventory SKU, a
// blood-type bucket or a doctor's appointment slot.
type ResourceUnit struct {
	ID         string `json:"id"`
	FacilityID string `json:"facility_id"`
	Kind       string `json:"kind" enum:"room,inventory_sku,blood_unit,appointment_slot"`
	Name       string `json:"name"`
	Capacity   int    `json:"capacity"`
	Allocated  int    `json:"allocated"`

	// Room attributes.
	Department *string `json:"department,omitempty"`
	RoomType   *string `json:"room_type,omitempty"`
	Floor      *int    `json:"floor,omitempty"`

	// Stock attributes (inventory and blood).
	Category     *string `json:"category,omitempty"`
	BloodType    *string `json:"blood_type,omitempty"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
	MaxLevel     *int    `json:"max_level,omitempty"`
	Expiry       *string `json:"expiry,omitempty" format:"date-time"`

	// Appointment slot attributes.
	DoctorID    *string `json:"doctor_id,omitempty"`
	WindowStart *string `json:"window_start,omitempty" format:"date-time"`
	WindowEnd   *string `json:"window_end,omitempty" format:"date-time"`

	State     string `json:"state"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Remaining is the quantity still allocatable.
func (u ResourceUnit) Remaining() int {
	return u.Capacity - u.Allocated
}

type Reservation struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	RequesterID string  `json:"requester_id"`
	Quantity    int     `json:"quantity"`
	WindowStart *string `json:"window_start,omitempty" format:"date-time"`
	WindowEnd   *string `json:"window_end,omitempty" format:"date-time"`
	Status      string  `json:"status" enum:"pending,active,released,cancelled,expired"`
	Note        string  `json:"note,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReleasedAt  *string `json:"released_at,omitempty" format:"date-time"`
}

// Reservation statuses.
const (
	ReservationPending   = "pending"
	ReservationActive    = "active"
	ReservationReleased  = "released"
	ReservationCancelled = "cancelled"
	ReservationExpired   = "expired"
)

// Terminal reports whether a reservation status admits no further
// transitions.
func Terminal(status string) bool {
	switch status {
	case ReservationReleased, ReservationCancelled, ReservationExpired:
		return true
	}
	return false
}

// Alert levels.
const (
	AlertNormal       = "normal"
	AlertLow          = "low"
	AlertOut          = "out"
	AlertExpiringSoon = "expiring_soon"
)

// ThresholdAlert is derived from unit state, never edited directly.
type ThresholdAlert struct {
	UnitID           string `json:"unit_id"`
	UnitName         string `json:"unit_name,omitempty"`
	Kind             string `json:"kind,omitempty"`
	Level            string `json:"level" enum:"normal,low,out,expiring_soon"`
	ObservedQuantity int    `json:"observed_quantity"`
	Limit            int    `json:"limit"`
	RaisedAt         string `json:"raised_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FacilityID string `json:"facility_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
