package server

import (
	"carepool/internal/domain"
)

type CreateFacilityRequest struct {
	ID   string `json:"id" example:"city-general"`
	Name string `json:"name,omitempty" example:"City General Hospital"`
}

type FacilityResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func facilityResponse(f domain.Facility) FacilityResponse {
	return FacilityResponse{ID: f.ID, Name: f.Name, Status: f.Status, CreatedAt: f.CreatedAt}
}

func mapFacilities(items []domain.Facility) []FacilityResponse {
	res := make([]FacilityResponse, 0, len(items))
	for _, f := range items {
		res = append(res, facilityResponse(f))
	}
	return res
}

type CreateUnitRequest struct {
	ID             *string `json:"id,omitempty"`
	Kind           string  `json:"kind" enum:"room,inventory_sku,blood_unit,appointment_slot"`
	Name           string  `json:"name"`
	Capacity       *int    `json:"capacity,omitempty"`
	Department     *string `json:"department,omitempty"`
	RoomType       *string `json:"room_type,omitempty"`
	Floor          *int    `json:"floor,omitempty"`
	Category       *string `json:"category,omitempty"`
	BloodType      *string `json:"blood_type,omitempty"`
	ReorderLevel   *int    `json:"reorder_level,omitempty"`
	MaxLevel       *int    `json:"max_level,omitempty"`
	Expiry         *string `json:"expiry,omitempty" format:"date-time"`
	CollectionDate *string `json:"collection_date,omitempty" format:"date-time"`
	DoctorID       *string `json:"doctor_id,omitempty"`
	WindowStart    *string `json:"window_start,omitempty" format:"date-time"`
	WindowEnd      *string `json:"window_end,omitempty" format:"date-time"`
}

type UnitResponse struct {
	ID           string  `json:"id"`
	FacilityID   string  `json:"facility_id"`
	Kind         string  `json:"kind"`
	Name         string  `json:"name"`
	Capacity     int     `json:"capacity"`
	Allocated    int     `json:"allocated"`
	Remaining    int     `json:"remaining"`
	Department   *string `json:"department,omitempty"`
	RoomType     *string `json:"room_type,omitempty"`
	Floor        *int    `json:"floor,omitempty"`
	Category     *string `json:"category,omitempty"`
	BloodType    *string `json:"blood_type,omitempty"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
	MaxLevel     *int    `json:"max_level,omitempty"`
	Expiry       *string `json:"expiry,omitempty"`
	DoctorID     *string `json:"doctor_id,omitempty"`
	WindowStart  *string `json:"window_start,omitempty"`
	WindowEnd    *string `json:"window_end,omitempty"`
	State        string  `json:"state"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func unitResponse(u domain.ResourceUnit) UnitResponse {
	return UnitResponse{
		ID:           u.ID,
		FacilityID:   u.FacilityID,
		Kind:         u.Kind,
		Name:         u.Name,
		Capacity:     u.Capacity,
		Allocated:    u.Allocated,
		Remaining:    u.Remaining(),
		Department:   u.Department,
		RoomType:     u.RoomType,
		Floor:        u.Floor,
		Category:     u.Category,
		BloodType:    u.BloodType,
		ReorderLevel: u.ReorderLevel,
		MaxLevel:     u.MaxLevel,
		Expiry:       u.Expiry,
		DoctorID:     u.DoctorID,
		WindowStart:  u.WindowStart,
		WindowEnd:    u.WindowEnd,
		State:        u.State,
		Version:      u.Version,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func mapUnits(items []domain.ResourceUnit) []UnitResponse {
	res := make([]UnitResponse, 0, len(items))
	for _, u := range items {
		res = append(res, unitResponse(u))
	}
	return res
}

type AllocateRequest struct {
	Kind        string  `json:"kind,omitempty" enum:"room,inventory_sku,blood_unit,appointment_slot,"`
	UnitID      *string `json:"unit_id,omitempty"`
	Department  *string `json:"department,omitempty"`
	RoomType    *string `json:"room_type,omitempty"`
	Category    *string `json:"category,omitempty"`
	BloodType   *string `json:"blood_type,omitempty"`
	DoctorID    *string `json:"doctor_id,omitempty"`
	RequesterID string  `json:"requester_id"`
	Quantity    *int    `json:"quantity,omitempty"`
	WindowStart *string `json:"window_start,omitempty" format:"date-time"`
	WindowEnd   *string `json:"window_end,omitempty" format:"date-time"`
	Hold        bool    `json:"hold,omitempty"`
	Note        *string `json:"note,omitempty"`
}

type ReservationResponse struct {
	ID          string  `json:"id"`
	UnitID      string  `json:"unit_id"`
	RequesterID string  `json:"requester_id"`
	Quantity    int     `json:"quantity"`
	WindowStart *string `json:"window_start,omitempty"`
	WindowEnd   *string `json:"window_end,omitempty"`
	Status      string  `json:"status"`
	Note        string  `json:"note,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ReleasedAt  *string `json:"released_at,omitempty"`
}

func reservationResponse(r domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          r.ID,
		UnitID:      r.UnitID,
		RequesterID: r.RequesterID,
		Quantity:    r.Quantity,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		Status:      r.Status,
		Note:        r.Note,
		CreatedAt:   r.CreatedAt,
		ReleasedAt:  r.ReleasedAt,
	}
}

func mapReservations(items []domain.Reservation) []ReservationResponse {
	res := make([]ReservationResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reservationResponse(r))
	}
	return res
}

type AlertResponse struct {
	UnitID           string `json:"unit_id"`
	UnitName         string `json:"unit_name,omitempty"`
	Kind             string `json:"kind,omitempty"`
	Level            string `json:"level"`
	ObservedQuantity int    `json:"observed_quantity"`
	Limit            int    `json:"limit"`
	RaisedAt         string `json:"raised_at"`
}

func mapAlerts(items []domain.ThresholdAlert) []AlertResponse {
	res := make([]AlertResponse, 0, len(items))
	for _, a := range items {
		res = append(res, AlertResponse{
			UnitID:           a.UnitID,
			UnitName:         a.UnitName,
			Kind:             a.Kind,
			Level:            a.Level,
			ObservedQuantity: a.ObservedQuantity,
			Limit:            a.Limit,
			RaisedAt:         a.RaisedAt,
		})
	}
	return res
}

// AllocationResponse bundles the reservation with the unit it landed on and
// any threshold alerts the mutation raised.
type AllocationResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Unit        UnitResponse        `json:"unit"`
	Alerts      []AlertResponse     `json:"alerts,omitempty"`
}

type RestockRequest struct {
	Quantity int     `json:"quantity" minimum:"1"`
	Expiry   *string `json:"expiry,omitempty" format:"date-time"`
}

type RestockResponse struct {
	Unit   UnitResponse    `json:"unit"`
	Alerts []AlertResponse `json:"alerts,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	FacilityID string `json:"facility_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			FacilityID: e.FacilityID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}

type SweepResponse struct {
	Expired []ReservationResponse `json:"expired"`
	Count   int                   `json:"count"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
