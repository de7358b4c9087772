package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carepool/internal/config"
	"carepool/internal/domain"
	"carepool/internal/events"
	"carepool/internal/lifecycle"
	"carepool/internal/notify"
	"carepool/internal/repo"
	"carepool/internal/threshold"
)

// Coordinator-level errors; ledger and lifecycle errors pass through from
// their packages.
var (
	ErrNoAvailability        = errors.New("no availability")
	ErrBusy                  = errors.New("busy; concurrent updates exhausted retry budget")
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// Engine is the allocation coordinator: the single entry point through
// which reservations are created and mutated.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify *notify.Dispatcher
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Notify: notify.NewDispatcher(notify.LogPublisher{}),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) retryLimit() int {
	if e.Config != nil && e.Config.Allocation.RetryLimit > 0 {
		return e.Config.Allocation.RetryLimit
	}
	return 3
}

func (e Engine) thresholdConfig() threshold.Config {
	cfg := threshold.Config{
		ExpiringSoonWindow:  30 * 24 * time.Hour,
		DefaultReorderLevel: 10,
	}
	if e.Config != nil {
		if d := e.Config.Thresholds.ExpiringSoonDays; d > 0 {
			cfg.ExpiringSoonWindow = time.Duration(d) * 24 * time.Hour
		}
		cfg.DefaultReorderLevel = e.Config.Thresholds.DefaultReorderLevel
	}
	return cfg
}

// InitFacility creates the facility record and seeds its config.
func (e Engine) InitFacility(ctx context.Context, facilityID, name, actorID string) (domain.Facility, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Facility{}, err
	}
	defer tx.Rollback()

	f := domain.Facility{
		ID:        facilityID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO facilities(id,name,status,created_at) VALUES (?,?,?,?)`,
		f.ID, f.Name, f.Status, f.CreatedAt); err != nil {
		return domain.Facility{}, fmt.Errorf("insert facility: %w", err)
	}
	if err := e.Repo.UpsertFacilityConfigTx(ctx, tx, f.ID, config.Default(f.ID)); err != nil {
		return domain.Facility{}, fmt.Errorf("insert facility config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "facility.init", f.ID, "facility", f.ID, actorID, events.EventPayload{"status": f.Status}); err != nil {
		return domain.Facility{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Facility{}, err
	}
	return f, nil
}

// UnitCreateOptions are parameters for registering an allocatable unit.
type UnitCreateOptions struct {
	ID             string
	FacilityID     string
	Kind           string
	Name           string
	Capacity       int
	Department     string
	RoomType       string
	Floor          *int
	Category       string
	BloodType      string
	ReorderLevel   *int
	MaxLevel       *int
	Expiry         string
	CollectionDate string
	DoctorID       string
	WindowStart    string
	WindowEnd      string
	ActorID        string
}

// RegisterUnit adds a unit to the registry. Administrative: it never touches
// the allocation hot path.
func (e Engine) RegisterUnit(ctx context.Context, opts UnitCreateOptions) (domain.ResourceUnit, error) {
	if e.Config == nil {
		return domain.ResourceUnit{}, errors.New("config not loaded")
	}
	switch opts.Kind {
	case domain.KindRoom, domain.KindInventorySKU, domain.KindBloodUnit, domain.KindAppointmentSlot:
	default:
		return domain.ResourceUnit{}, fmt.Errorf("invalid unit kind %q", opts.Kind)
	}
	if opts.Name == "" {
		return domain.ResourceUnit{}, errors.New("name is required")
	}
	if opts.FacilityID == "" {
		return domain.ResourceUnit{}, errors.New("facility is required")
	}
	if domain.SingleOccupancy(opts.Kind) {
		if opts.Capacity == 0 {
			opts.Capacity = 1
		}
		if opts.Capacity != 1 {
			return domain.ResourceUnit{}, fmt.Errorf("invalid capacity %d: %s units are single-occupancy", opts.Capacity, opts.Kind)
		}
	} else if opts.Capacity < 1 {
		return domain.ResourceUnit{}, fmt.Errorf("invalid capacity %d: must be at least 1", opts.Capacity)
	}
	if opts.Kind == domain.KindAppointmentSlot {
		if opts.DoctorID == "" || opts.WindowStart == "" || opts.WindowEnd == "" {
			return domain.ResourceUnit{}, errors.New("appointment slots require doctor and window")
		}
		start, end, err := normalizeWindow(opts.WindowStart, opts.WindowEnd)
		if err != nil {
			return domain.ResourceUnit{}, err
		}
		opts.WindowStart, opts.WindowEnd = start, end
	}
	if _, err := e.Repo.GetFacility(ctx, opts.FacilityID); err != nil {
		return domain.ResourceUnit{}, err
	}

	now := e.now().UTC()
	expiry := opts.Expiry
	if expiry == "" && opts.Kind == domain.KindBloodUnit {
		// Blood keeps for a fixed shelf life from collection when no
		// explicit expiry is recorded.
		collected := now
		if opts.CollectionDate != "" {
			parsed, err := time.Parse(time.RFC3339, opts.CollectionDate)
			if err != nil {
				return domain.ResourceUnit{}, fmt.Errorf("invalid collection date: %w", err)
			}
			collected = parsed
		}
		days := 35
		if e.Config.Thresholds.BloodShelfLifeDays > 0 {
			days = e.Config.Thresholds.BloodShelfLifeDays
		}
		expiry = collected.Add(time.Duration(days) * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	if expiry != "" {
		if _, err := time.Parse(time.RFC3339, expiry); err != nil {
			return domain.ResourceUnit{}, fmt.Errorf("invalid expiry: %w", err)
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nowStr := now.Format(time.RFC3339)
	state := lifecycle.Initial(opts.Kind)
	if domain.Countable(opts.Kind) {
		reorder := e.thresholdConfig().DefaultReorderLevel
		if opts.ReorderLevel != nil {
			reorder = *opts.ReorderLevel
		}
		state = lifecycle.DerivedStockStatus(opts.Capacity, reorder)
	}
	u := domain.ResourceUnit{
		ID:           id,
		FacilityID:   opts.FacilityID,
		Kind:         opts.Kind,
		Name:         opts.Name,
		Capacity:     opts.Capacity,
		Department:   optionalString(opts.Department),
		RoomType:     optionalString(opts.RoomType),
		Floor:        opts.Floor,
		Category:     optionalString(opts.Category),
		BloodType:    optionalString(opts.BloodType),
		ReorderLevel: opts.ReorderLevel,
		MaxLevel:     opts.MaxLevel,
		Expiry:       optionalString(expiry),
		DoctorID:     optionalString(opts.DoctorID),
		WindowStart:  optionalString(opts.WindowStart),
		WindowEnd:    optionalString(opts.WindowEnd),
		State:        state,
		Version:      1,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ResourceUnit{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUnitTx(ctx, tx, u); err != nil {
		return domain.ResourceUnit{}, err
	}
	if err := e.Events.Append(ctx, tx, "unit.created", u.FacilityID, "unit", u.ID, opts.ActorID, events.EventPayload{
		"kind": u.Kind, "name": u.Name, "capacity": u.Capacity, "state": u.State,
	}); err != nil {
		return domain.ResourceUnit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResourceUnit{}, err
	}
	return u, nil
}

// AllocateOptions carry the selection criteria and the claim parameters.
// UnitID pins the request to one specific unit; otherwise candidates are
// resolved from kind plus attribute filters.
type AllocateOptions struct {
	FacilityID  string
	Kind        string
	UnitID      string
	Department  string
	RoomType    string
	Category    string
	BloodType   string
	DoctorID    string
	RequesterID string
	Quantity    int
	WindowStart string
	WindowEnd   string
	Hold        bool
	Note        string
	ActorID     string
}

// AllocationResult is returned to the calling handler; alerts are attached
// for forwarding and have already been published to the sink.
type AllocationResult struct {
	Reservation domain.Reservation
	Unit        domain.ResourceUnit
	Alerts      []domain.ThresholdAlert
}

// Allocate sequences check-availability, reserve, transition and notify as
// one logical operation. Single-occupancy requests walk candidates in
// registry order; countable requests resolve exactly one unit and fail
// terminally on insufficient stock. Version mismatches are the only
// failures retried, bounded by the configured retry limit.
func (e Engine) Allocate(ctx context.Context, opts AllocateOptions) (AllocationResult, error) {
	if e.Config == nil {
		return AllocationResult{}, errors.New("config not loaded")
	}
	if opts.RequesterID == "" {
		return AllocationResult{}, errors.New("requester is required")
	}
	if opts.Quantity == 0 {
		opts.Quantity = 1
	}
	if opts.Quantity < 1 {
		return AllocationResult{}, fmt.Errorf("invalid quantity %d", opts.Quantity)
	}
	candidates, err := e.resolveCandidates(ctx, &opts)
	if err != nil {
		return AllocationResult{}, err
	}
	if domain.SingleOccupancy(opts.Kind) {
		if opts.Quantity != 1 {
			return AllocationResult{}, fmt.Errorf("invalid quantity %d: %s units are single-occupancy", opts.Quantity, opts.Kind)
		}
		if opts.WindowStart == "" || opts.WindowEnd == "" {
			return AllocationResult{}, fmt.Errorf("invalid request: %s allocation requires a window", opts.Kind)
		}
		start, end, err := normalizeWindow(opts.WindowStart, opts.WindowEnd)
		if err != nil {
			return AllocationResult{}, err
		}
		opts.WindowStart, opts.WindowEnd = start, end
	}

	if domain.Countable(opts.Kind) {
		if len(candidates) != 1 {
			return AllocationResult{}, fmt.Errorf("invalid criteria: resolved %d stock units, need exactly one", len(candidates))
		}
		return e.allocateWithRetry(ctx, candidates[0].ID, opts)
	}

	// First fit over the deterministic candidate order; a conflict on one
	// unit moves on to the next unless the caller pinned the unit.
	for _, cand := range candidates {
		result, err := e.allocateWithRetry(ctx, cand.ID, opts)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, repo.ErrConflict) && opts.UnitID == "" {
			continue
		}
		return AllocationResult{}, err
	}
	return AllocationResult{}, ErrNoAvailability
}

func (e Engine) resolveCandidates(ctx context.Context, opts *AllocateOptions) ([]domain.ResourceUnit, error) {
	if opts.UnitID != "" {
		u, err := e.Repo.GetUnit(ctx, opts.UnitID)
		if err != nil {
			return nil, err
		}
		if opts.FacilityID != "" && u.FacilityID != opts.FacilityID {
			return nil, fmt.Errorf("%w: unit %s not in facility %s", repo.ErrNotFound, u.ID, opts.FacilityID)
		}
		if opts.Kind == "" {
			opts.Kind = u.Kind
		} else if opts.Kind != u.Kind {
			return nil, fmt.Errorf("invalid criteria: unit %s is a %s, not a %s", u.ID, u.Kind, opts.Kind)
		}
		return []domain.ResourceUnit{u}, nil
	}
	if opts.Kind == "" {
		return nil, errors.New("kind or unit id is required")
	}
	filters := repo.UnitFilters{
		FacilityID: opts.FacilityID,
		Kind:       opts.Kind,
		Department: opts.Department,
		RoomType:   opts.RoomType,
		Category:   opts.Category,
		BloodType:  opts.BloodType,
		DoctorID:   opts.DoctorID,
	}
	if domain.SingleOccupancy(opts.Kind) {
		filters.State = lifecycle.Initial(opts.Kind)
	}
	units, err := e.Repo.ListUnits(ctx, filters)
	if err != nil {
		return nil, err
	}
	var res []domain.ResourceUnit
	for _, u := range units {
		if u.State == lifecycle.Decommissioned {
			continue
		}
		res = append(res, u)
	}
	if len(res) == 0 {
		return nil, ErrNoAvailability
	}
	return res, nil
}

func (e Engine) allocateWithRetry(ctx context.Context, unitID string, opts AllocateOptions) (AllocationResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.retryLimit(); attempt++ {
		result, err := e.reserveOnce(ctx, unitID, opts)
		if err == nil {
			result.Alerts = e.evaluateAndNotify(ctx, result.Unit)
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

// reserveOnce is one atomic check-then-write against a unit: conflict
// detection, the reservation row and the CAS version bump share a
// transaction.
func (e Engine) reserveOnce(ctx context.Context, unitID string, opts AllocateOptions) (AllocationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AllocationResult{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return AllocationResult{}, err
	}
	if u.State == lifecycle.Decommissioned {
		return AllocationResult{}, fmt.Errorf("%w: unit %s is decommissioned", repo.ErrConflict, u.ID)
	}
	expected := u.Version
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	status := domain.ReservationActive
	if domain.SingleOccupancy(u.Kind) {
		if u.Allocated > 0 {
			return AllocationResult{}, fmt.Errorf("%w: unit %s already has an active reservation", repo.ErrConflict, u.ID)
		}
		overlap, err := e.Repo.ActiveOverlapExists(ctx, tx, u.ID, opts.WindowStart, opts.WindowEnd)
		if err != nil {
			return AllocationResult{}, err
		}
		if overlap {
			return AllocationResult{}, fmt.Errorf("%w: window overlaps an active reservation on unit %s", repo.ErrConflict, u.ID)
		}
		event := lifecycle.AllocationEvent(u.Kind, opts.Hold)
		next, err := lifecycle.Next(u.Kind, u.State, event)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("%w: unit %s is %s", repo.ErrConflict, u.ID, u.State)
		}
		if event == lifecycle.EventHold || event == lifecycle.EventRequest {
			status = domain.ReservationPending
		}
		u.Allocated = opts.Quantity
		u.State = next
	} else {
		if u.Remaining() < opts.Quantity {
			return AllocationResult{}, fmt.Errorf("%w: requested %d, %d remaining on unit %s", repo.ErrInsufficientStock, opts.Quantity, u.Remaining(), u.ID)
		}
		u.Allocated += opts.Quantity
		u.State = lifecycle.DerivedStockStatus(u.Remaining(), e.reorderLevel(u))
	}

	res := domain.Reservation{
		ID:          uuid.New().String(),
		UnitID:      u.ID,
		RequesterID: opts.RequesterID,
		Quantity:    opts.Quantity,
		WindowStart: optionalString(opts.WindowStart),
		WindowEnd:   optionalString(opts.WindowEnd),
		Status:      status,
		Note:        opts.Note,
		CreatedAt:   nowStr,
	}
	if err := e.Repo.InsertReservation(ctx, tx, res); err != nil {
		return AllocationResult{}, err
	}

	// Should be unreachable given the checks above; verified before commit
	// so a violation rolls the reservation back instead of persisting it.
	if u.Allocated > u.Capacity || u.Allocated < 0 {
		return AllocationResult{}, fmt.Errorf("%w: unit %s allocated %d of %d", ErrInternalInconsistency, u.ID, u.Allocated, u.Capacity)
	}

	u.UpdatedAt = nowStr
	if err := e.Repo.UpdateUnitCAS(ctx, tx, u, expected); err != nil {
		return AllocationResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "reservation.allocated", u.FacilityID, "reservation", res.ID, opts.ActorID, events.EventPayload{
		"unit_id": u.ID, "requester_id": res.RequesterID, "quantity": res.Quantity, "status": res.Status, "unit_state": u.State,
	}); err != nil {
		return AllocationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AllocationResult{}, err
	}
	u.Version = expected + 1
	return AllocationResult{Reservation: res, Unit: u}, nil
}

func (e Engine) reorderLevel(u domain.ResourceUnit) int {
	if u.ReorderLevel != nil {
		return *u.ReorderLevel
	}
	return e.thresholdConfig().DefaultReorderLevel
}

func (e Engine) evaluateAndNotify(ctx context.Context, u domain.ResourceUnit) []domain.ThresholdAlert {
	alerts := threshold.Evaluate(u, e.now(), e.thresholdConfig())
	if e.Notify != nil {
		e.Notify.Dispatch(ctx, alerts)
	}
	return threshold.Actionable(alerts)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// normalizeWindow validates a [start, end) window and rewrites both bounds
// as UTC RFC3339. Persisted windows must share one offset so the overlap
// check can compare them as strings.
func normalizeWindow(start, end string) (string, string, error) {
	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return "", "", fmt.Errorf("invalid window start: %w", err)
	}
	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return "", "", fmt.Errorf("invalid window end: %w", err)
	}
	if !from.Before(to) {
		return "", "", errors.New("invalid window: start must precede end")
	}
	return from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), nil
}
