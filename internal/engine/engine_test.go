package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carepool/internal/config"
	"carepool/internal/db"
	"carepool/internal/domain"
	"carepool/internal/engine"
	"carepool/internal/lifecycle"
	"carepool/internal/migrate"
	"carepool/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("fac-1")
	eng := engine.New(conn, cfg)
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	env := &testEnv{Engine: eng, Ctx: context.Background(), now: &now}
	env.Engine.Now = func() time.Time { return *env.now }
	if _, err := env.Engine.InitFacility(env.Ctx, "fac-1", "Test Facility", "tester"); err != nil {
		t.Fatalf("init facility: %v", err)
	}
	return env
}

func (env *testEnv) addRoom(t *testing.T, id string) domain.ResourceUnit {
	t.Helper()
	u, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:         id,
		FacilityID: "fac-1",
		Kind:       domain.KindRoom,
		Name:       id,
		Department: "general",
		RoomType:   "single",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("register room: %v", err)
	}
	return u
}

func (env *testEnv) addSlot(t *testing.T, id, doctor, start, end string) domain.ResourceUnit {
	t.Helper()
	u, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:          id,
		FacilityID:  "fac-1",
		Kind:        domain.KindAppointmentSlot,
		Name:        id,
		DoctorID:    doctor,
		WindowStart: start,
		WindowEnd:   end,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("register slot: %v", err)
	}
	return u
}

func (env *testEnv) addSKU(t *testing.T, id string, capacity, reorder int) domain.ResourceUnit {
	t.Helper()
	u, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:           id,
		FacilityID:   "fac-1",
		Kind:         domain.KindInventorySKU,
		Name:         id,
		Capacity:     capacity,
		Category:     "medicine",
		ReorderLevel: &reorder,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("register sku: %v", err)
	}
	return u
}

const (
	windowStart = "2026-01-05T09:00:00Z"
	windowEnd   = "2026-01-07T09:00:00Z"
)

func (env *testEnv) allocateRoom(t *testing.T, unitID, requester string) engine.AllocationResult {
	t.Helper()
	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      unitID,
		RequesterID: requester,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("allocate room: %v", err)
	}
	return result
}

func TestRoomAdmitDischargeReadyCycle(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-301")

	result := env.allocateRoom(t, "R-301", "patient-1")
	if result.Reservation.Status != domain.ReservationActive {
		t.Fatalf("status = %s, want active", result.Reservation.Status)
	}
	if result.Unit.State != lifecycle.RoomOccupied {
		t.Fatalf("state = %s, want occupied", result.Unit.State)
	}

	// Second admission attempt against the same room must conflict.
	_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "R-301",
		RequesterID: "patient-2",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("second allocate: %v, want conflict", err)
	}

	released, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Reservation.Status != domain.ReservationReleased {
		t.Fatalf("status = %s, want released", released.Reservation.Status)
	}
	if released.Unit.State != lifecycle.RoomDischarged {
		t.Fatalf("state = %s, want discharged", released.Unit.State)
	}

	// Discharged rooms are out of circulation until turned over.
	_, err = env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "R-301",
		RequesterID: "patient-3",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("allocate discharged: %v, want conflict", err)
	}

	u, err := env.Engine.MakeReady(env.Ctx, "R-301", "tester")
	if err != nil {
		t.Fatalf("make ready: %v", err)
	}
	if u.State != lifecycle.RoomAvailable {
		t.Fatalf("state = %s, want available", u.State)
	}
	env.allocateRoom(t, "R-301", "patient-3")
}

func TestRoomHoldThenAdmit(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-101")

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "R-101",
		RequesterID: "patient-1",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Hold:        true,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if result.Reservation.Status != domain.ReservationPending || result.Unit.State != lifecycle.RoomReserved {
		t.Fatalf("got %s/%s, want pending/reserved", result.Reservation.Status, result.Unit.State)
	}

	admitted, err := env.Engine.Admit(env.Ctx, result.Reservation.ID, "tester")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if admitted.Reservation.Status != domain.ReservationActive || admitted.Unit.State != lifecycle.RoomOccupied {
		t.Fatalf("got %s/%s, want active/occupied", admitted.Reservation.Status, admitted.Unit.State)
	}
}

func TestConcurrentAllocateSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-1")

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
				FacilityID:  "fac-1",
				UnitID:      "R-1",
				RequesterID: "patient",
				WindowStart: windowStart,
				WindowEnd:   windowEnd,
				ActorID:     "tester",
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "R-1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Allocated != 1 || u.State != lifecycle.RoomOccupied {
		t.Fatalf("unit allocated=%d state=%s after race", u.Allocated, u.State)
	}
	active, err := env.Engine.Repo.ListActive(env.Ctx, "R-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("active reservations = %d, want 1", len(active))
	}
}

func TestStockNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "saline-500", 5, 2)

	alloc := func(q int) error {
		_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
			FacilityID:  "fac-1",
			UnitID:      "saline-500",
			RequesterID: "ward-3",
			Quantity:    q,
			ActorID:     "tester",
		})
		return err
	}
	if err := alloc(3); err != nil {
		t.Fatalf("allocate 3: %v", err)
	}
	if err := alloc(3); !errors.Is(err, repo.ErrInsufficientStock) {
		t.Fatalf("allocate past capacity: %v, want insufficient stock", err)
	}
	if err := alloc(2); err != nil {
		t.Fatalf("allocate remaining 2: %v", err)
	}
	if err := alloc(1); !errors.Is(err, repo.ErrInsufficientStock) {
		t.Fatalf("allocate from empty: %v, want insufficient stock", err)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "saline-500")
	if err != nil {
		t.Fatal(err)
	}
	if u.Remaining() != 0 || u.State != lifecycle.StockOut {
		t.Fatalf("remaining=%d state=%s, want 0/out_of_stock", u.Remaining(), u.State)
	}
}

func TestLowStockAlertOnThresholdCrossing(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "ibuprofen-200", 20, 15)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "ibuprofen-200",
		RequesterID: "pharmacy",
		Quantity:    8,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if result.Unit.Remaining() != 12 {
		t.Fatalf("remaining = %d, want 12", result.Unit.Remaining())
	}
	var low *domain.ThresholdAlert
	for i := range result.Alerts {
		if result.Alerts[i].Level == domain.AlertLow {
			low = &result.Alerts[i]
		}
	}
	if low == nil {
		t.Fatalf("no low alert in %v", result.Alerts)
	}
	if low.ObservedQuantity != 12 || low.Limit != 15 {
		t.Fatalf("low alert observed=%d limit=%d", low.ObservedQuantity, low.Limit)
	}
	if result.Unit.State != lifecycle.StockLow {
		t.Fatalf("state = %s, want low_stock", result.Unit.State)
	}
}

func TestRestockClearsLowState(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "gauze", 10, 8)

	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "gauze", RequesterID: "er", Quantity: 5, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	u, alerts, err := env.Engine.Restock(env.Ctx, "gauze", 30, "", "tester")
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if u.Capacity != 40 || u.Remaining() != 35 {
		t.Fatalf("capacity=%d remaining=%d", u.Capacity, u.Remaining())
	}
	if u.State != lifecycle.StockIn {
		t.Fatalf("state = %s, want in_stock", u.State)
	}
	for _, a := range alerts {
		if a.Level == domain.AlertLow || a.Level == domain.AlertOut {
			t.Fatalf("unexpected %s alert after restock", a.Level)
		}
	}
}

func TestReleaseRestoresStockExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "o-neg", 6, 2)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "o-neg", RequesterID: "surgery", Quantity: 4, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if first.Unit.Remaining() != 6 {
		t.Fatalf("remaining = %d after release, want 6", first.Unit.Remaining())
	}
	if _, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester"); !errors.Is(err, repo.ErrInvalidState) {
		t.Fatalf("repeat release err = %v, want ErrInvalidState", err)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "o-neg")
	if err != nil {
		t.Fatal(err)
	}
	if u.Remaining() != 6 {
		t.Fatalf("remaining = %d after refused repeat release, want 6", u.Remaining())
	}
	if u.Version != first.Unit.Version {
		t.Fatalf("version moved on refused release: %d != %d", u.Version, first.Unit.Version)
	}
}

func TestReleaseRefusedOnDischargedRoom(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-500")

	result := env.allocateRoom(t, "R-500", "P-1")
	if _, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester"); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester")
	if !errors.Is(err, repo.ErrInvalidState) {
		t.Fatalf("second release err = %v, want ErrInvalidState", err)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "R-500")
	if err != nil {
		t.Fatal(err)
	}
	if u.State != lifecycle.RoomDischarged {
		t.Fatalf("room state = %s, want discharged", u.State)
	}
	if u.Allocated != 0 {
		t.Fatalf("allocated = %d after refused release, want 0", u.Allocated)
	}
}

func TestSlotRequestConfirmComplete(t *testing.T) {
	env := newTestEnv(t)
	env.addSlot(t, "slot-1", "dr-lee", windowStart, windowEnd)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		Kind:        domain.KindAppointmentSlot,
		DoctorID:    "dr-lee",
		RequesterID: "patient-9",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if result.Reservation.Status != domain.ReservationPending || result.Unit.State != lifecycle.SlotPending {
		t.Fatalf("got %s/%s, want pending/pending", result.Reservation.Status, result.Unit.State)
	}

	confirmed, err := env.Engine.Confirm(env.Ctx, result.Reservation.ID, "dr-lee")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Unit.State != lifecycle.SlotConfirmed {
		t.Fatalf("state = %s, want confirmed", confirmed.Unit.State)
	}

	// Confirming twice is an invalid state, not a silent success.
	if _, err := env.Engine.Confirm(env.Ctx, result.Reservation.ID, "dr-lee"); !errors.Is(err, repo.ErrInvalidState) {
		t.Fatalf("double confirm: %v, want invalid state", err)
	}

	completed, err := env.Engine.Complete(env.Ctx, result.Reservation.ID, "dr-lee")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Unit.State != lifecycle.SlotCompleted || completed.Reservation.Status != domain.ReservationReleased {
		t.Fatalf("got %s/%s, want completed/released", completed.Unit.State, completed.Reservation.Status)
	}
}

func TestSlotRejectReopens(t *testing.T) {
	env := newTestEnv(t)
	env.addSlot(t, "slot-2", "dr-kim", windowStart, windowEnd)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "slot-2",
		RequesterID: "patient-4",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.Reject(env.Ctx, result.Reservation.ID, "dr-kim")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Unit.State != lifecycle.SlotRejected || rejected.Reservation.Status != domain.ReservationCancelled {
		t.Fatalf("got %s/%s, want rejected/cancelled", rejected.Unit.State, rejected.Reservation.Status)
	}
	if rejected.Unit.Allocated != 0 {
		t.Fatalf("allocated = %d after reject, want 0", rejected.Unit.Allocated)
	}
}

func TestCancelTerminalReservationFails(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-9")
	result := env.allocateRoom(t, "R-9", "patient-1")

	if _, err := env.Engine.Cancel(env.Ctx, result.Reservation.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, result.Reservation.ID, "tester"); !errors.Is(err, repo.ErrInvalidState) {
		t.Fatalf("cancel terminal: %v, want invalid state", err)
	}
}

func TestFirstFitWalksRegistryOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-A")
	env.addRoom(t, "R-B")

	alloc := func(requester string) (engine.AllocationResult, error) {
		return env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
			FacilityID:  "fac-1",
			Kind:        domain.KindRoom,
			Department:  "general",
			RequesterID: requester,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			ActorID:     "tester",
		})
	}
	first, err := alloc("p1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Unit.ID != "R-A" {
		t.Fatalf("first fit = %s, want R-A", first.Unit.ID)
	}
	second, err := alloc("p2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Unit.ID != "R-B" {
		t.Fatalf("second fit = %s, want R-B", second.Unit.ID)
	}
	if _, err := alloc("p3"); !errors.Is(err, engine.ErrNoAvailability) {
		t.Fatalf("exhausted pool: %v, want no availability", err)
	}
}

func TestSweepExpiresStalePending(t *testing.T) {
	env := newTestEnv(t)
	env.addSlot(t, "slot-3", "dr-oh", windowStart, windowEnd)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "slot-3",
		RequesterID: "patient-7",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Inside the TTL nothing is swept.
	expired, err := env.Engine.SweepExpired(env.Ctx, "fac-1", "sweeper")
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("swept %d inside ttl, want 0", len(expired))
	}

	env.advance(45 * time.Minute)
	expired, err = env.Engine.SweepExpired(env.Ctx, "fac-1", "sweeper")
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != result.Reservation.ID {
		t.Fatalf("swept %v, want the stale pending reservation", expired)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "slot-3")
	if err != nil {
		t.Fatal(err)
	}
	if u.State != lifecycle.SlotOpen || u.Allocated != 0 {
		t.Fatalf("unit %s allocated=%d after sweep, want open/0", u.State, u.Allocated)
	}
	res, err := env.Engine.Repo.GetReservation(env.Ctx, result.Reservation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ReservationExpired {
		t.Fatalf("status = %s, want expired", res.Status)
	}
}

func TestBloodUnitDefaultExpiryAndExpiringSoon(t *testing.T) {
	env := newTestEnv(t)
	reorder := 1
	u, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:           "o-pos",
		FacilityID:   "fac-1",
		Kind:         domain.KindBloodUnit,
		Name:         "O+ units",
		Capacity:     10,
		BloodType:    "O+",
		ReorderLevel: &reorder,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Expiry == nil {
		t.Fatal("blood unit registered without derived expiry")
	}
	want := env.now.Add(35 * 24 * time.Hour).Format(time.RFC3339)
	if *u.Expiry != want {
		t.Fatalf("expiry = %s, want %s", *u.Expiry, want)
	}

	// 35-day shelf life against a 30-day alert window: quiet for the first
	// five days, alerting after.
	alerts, err := env.Engine.QueryAlerts(env.Ctx, "fac-1", domain.KindBloodUnit)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("alerts before window = %v, want none", alerts)
	}
	env.advance(6 * 24 * time.Hour)
	alerts, err = env.Engine.QueryAlerts(env.Ctx, "fac-1", domain.KindBloodUnit)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range alerts {
		if a.Level == domain.AlertExpiringSoon && a.UnitID == "o-pos" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no expiring_soon alert in %v", alerts)
	}
}

func TestDecommissionRefusedWithOpenReservations(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "ins-01", 4, 1)

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "ins-01", RequesterID: "ward", Quantity: 1, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Decommission(env.Ctx, "ins-01", "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("decommission with open reservation: %v, want conflict", err)
	}
	if _, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	u, err := env.Engine.Decommission(env.Ctx, "ins-01", "tester")
	if err != nil {
		t.Fatalf("decommission: %v", err)
	}
	if u.State != lifecycle.Decommissioned {
		t.Fatalf("state = %s, want decommissioned", u.State)
	}
	_, err = env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "ins-01", RequesterID: "ward", Quantity: 1, ActorID: "tester",
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("allocate decommissioned: %v, want conflict", err)
	}
}

func TestEventsRecordedForAllocationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-7")
	result := env.allocateRoom(t, "R-7", "patient-1")
	if _, err := env.Engine.Release(env.Ctx, result.Reservation.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "fac-1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"facility.init":         false,
		"unit.created":          false,
		"reservation.allocated": false,
		"reservation.released":  false,
	}
	for _, evt := range events {
		if _, ok := want[evt.Type]; ok {
			want[evt.Type] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("missing %s event", typ)
		}
	}
}

func TestAllocateReturnsBusyWhenRetryBudgetExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.addSKU(t, "gauze", 10, 2)

	// A trigger standing in for a competing writer: every attempt bumps the
	// unit's version after the reservation row lands, so the version check
	// misses on each retry.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER contend AFTER INSERT ON reservations
BEGIN
	UPDATE units SET version = version + 1 WHERE id = NEW.unit_id;
END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "gauze", RequesterID: "ward", Quantity: 2, ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrBusy) {
		t.Fatalf("allocate under contention err = %v, want ErrBusy", err)
	}
	u, err := env.Engine.Repo.GetUnit(env.Ctx, "gauze")
	if err != nil {
		t.Fatal(err)
	}
	if u.Allocated != 0 || u.Version != 1 {
		t.Fatalf("unit mutated by failed attempts: allocated=%d version=%d", u.Allocated, u.Version)
	}
	leftover, err := env.Engine.Repo.ListReservations(env.Ctx, repo.ReservationFilters{UnitID: "gauze"})
	if err != nil {
		t.Fatal(err)
	}
	if len(leftover) != 0 {
		t.Fatalf("failed attempts persisted %d reservations", len(leftover))
	}

	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TRIGGER contend`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID: "fac-1", UnitID: "gauze", RequesterID: "ward", Quantity: 2, ActorID: "tester",
	}); err != nil {
		t.Fatalf("allocate after contention cleared: %v", err)
	}
}

func TestWindowsNormalizedToUTC(t *testing.T) {
	env := newTestEnv(t)
	env.addRoom(t, "R-9")

	result, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "R-9",
		RequesterID: "P-1",
		WindowStart: "2026-01-05T12:00:00+03:00",
		WindowEnd:   "2026-01-07T12:00:00+03:00",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := *result.Reservation.WindowStart; got != "2026-01-05T09:00:00Z" {
		t.Fatalf("window start stored as %q, want UTC", got)
	}
	if got := *result.Reservation.WindowEnd; got != "2026-01-07T09:00:00Z" {
		t.Fatalf("window end stored as %q, want UTC", got)
	}

	slot, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:          "slot-utc",
		FacilityID:  "fac-1",
		Kind:        domain.KindAppointmentSlot,
		Name:        "slot-utc",
		DoctorID:    "dr-kim",
		WindowStart: "2026-01-06T09:30:00-05:00",
		WindowEnd:   "2026-01-06T10:00:00-05:00",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := *slot.WindowStart; got != "2026-01-06T14:30:00Z" {
		t.Fatalf("slot window start stored as %q, want UTC", got)
	}
	if got := *slot.WindowEnd; got != "2026-01-06T15:00:00Z" {
		t.Fatalf("slot window end stored as %q, want UTC", got)
	}
}

func TestAllocatePinnedUnitScopedToFacility(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitFacility(env.Ctx, "fac-2", "Annex", "tester"); err != nil {
		t.Fatalf("init facility: %v", err)
	}
	if _, err := env.Engine.RegisterUnit(env.Ctx, engine.UnitCreateOptions{
		ID:         "annex-room",
		FacilityID: "fac-2",
		Kind:       domain.KindRoom,
		Name:       "annex-room",
		ActorID:    "tester",
	}); err != nil {
		t.Fatalf("register room: %v", err)
	}

	_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-1",
		UnitID:      "annex-room",
		RequesterID: "P-1",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-facility allocate err = %v, want ErrNotFound", err)
	}

	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		FacilityID:  "fac-2",
		UnitID:      "annex-room",
		RequesterID: "P-1",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ActorID:     "tester",
	}); err != nil {
		t.Fatalf("allocate within owning facility: %v", err)
	}
}
