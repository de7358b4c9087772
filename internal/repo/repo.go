package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carepool/internal/config"
	"carepool/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound          = errors.New("not found")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid reservation state")
)

func (r Repo) InsertFacility(ctx context.Context, f domain.Facility) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO facilities(id,name,status,created_at) VALUES (?,?,?,?)`,
		f.ID, nullable(f.Name), f.Status, f.CreatedAt)
	return err
}

func (r Repo) GetFacility(ctx context.Context, id string) (domain.Facility, error) {
	var f domain.Facility
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM facilities WHERE id=?`, id).
		Scan(&f.ID, &name, &f.Status, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if name.Valid {
		f.Name = name.String
	}
	return f, err
}

// SingleFacility returns the only facility in the workspace, or an error
// telling the caller to disambiguate.
func (r Repo) SingleFacility(ctx context.Context) (domain.Facility, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM facilities`)
	if err != nil {
		return domain.Facility{}, err
	}
	defer rows.Close()
	var facilities []domain.Facility
	for rows.Next() {
		var f domain.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Status, &f.CreatedAt); err != nil {
			return domain.Facility{}, err
		}
		facilities = append(facilities, f)
	}
	if len(facilities) == 0 {
		return domain.Facility{}, ErrNotFound
	}
	if len(facilities) > 1 {
		return domain.Facility{}, fmt.Errorf("multiple facilities exist; specify --facility")
	}
	return facilities[0], nil
}

func (r Repo) ListFacilities(ctx context.Context) ([]domain.Facility, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM facilities ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Facility
	for rows.Next() {
		var f domain.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func (r Repo) UpsertFacilityConfig(ctx context.Context, facilityID string, cfg *config.Config) error {
	return upsertFacilityConfig(ctx, r.DB, nil, facilityID, cfg)
}

func (r Repo) UpsertFacilityConfigTx(ctx context.Context, tx *sql.Tx, facilityID string, cfg *config.Config) error {
	return upsertFacilityConfig(ctx, nil, tx, facilityID, cfg)
}

func upsertFacilityConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, facilityID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Facility.ID = facilityID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO facility_configs(facility_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(facility_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, facilityID, string(payload), now, now)
	return err
}

func (r Repo) GetFacilityConfig(ctx context.Context, facilityID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM facility_configs WHERE facility_id=?`, facilityID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Facility.ID == "" {
		cfg.Facility.ID = facilityID
	}
	return &cfg, cfg.Validate()
}

const unitColumns = `id,facility_id,kind,name,capacity,allocated,department,room_type,floor,category,blood_type,reorder_level,max_level,expiry,doctor_id,window_start,window_end,state,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (domain.ResourceUnit, error) {
	var u domain.ResourceUnit
	var department, roomType, category, bloodType, expiry, doctorID, windowStart, windowEnd sql.NullString
	var floor, reorderLevel, maxLevel sql.NullInt64
	err := row.Scan(&u.ID, &u.FacilityID, &u.Kind, &u.Name, &u.Capacity, &u.Allocated,
		&department, &roomType, &floor, &category, &bloodType, &reorderLevel, &maxLevel,
		&expiry, &doctorID, &windowStart, &windowEnd, &u.State, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Department = strPtr(department)
	u.RoomType = strPtr(roomType)
	u.Floor = intPtr(floor)
	u.Category = strPtr(category)
	u.BloodType = strPtr(bloodType)
	u.ReorderLevel = intPtr(reorderLevel)
	u.MaxLevel = intPtr(maxLevel)
	u.Expiry = strPtr(expiry)
	u.DoctorID = strPtr(doctorID)
	u.WindowStart = strPtr(windowStart)
	u.WindowEnd = strPtr(windowEnd)
	return u, nil
}

func (r Repo) InsertUnit(ctx context.Context, u domain.ResourceUnit) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertUnitTx(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertUnitTx(ctx context.Context, tx *sql.Tx, u domain.ResourceUnit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO units(`+unitColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.FacilityID, u.Kind, u.Name, u.Capacity, u.Allocated,
		nullableStringPtr(u.Department), nullableStringPtr(u.RoomType), nullableIntPtr(u.Floor),
		nullableStringPtr(u.Category), nullableStringPtr(u.BloodType), nullableIntPtr(u.ReorderLevel),
		nullableIntPtr(u.MaxLevel), nullableStringPtr(u.Expiry), nullableStringPtr(u.DoctorID),
		nullableStringPtr(u.WindowStart), nullableStringPtr(u.WindowEnd),
		u.State, u.Version, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.ResourceUnit, error) {
	return scanUnit(r.DB.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id=?`, id))
}

func (r Repo) GetUnitTx(ctx context.Context, tx *sql.Tx, id string) (domain.ResourceUnit, error) {
	return scanUnit(tx.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id=?`, id))
}

// UnitFilters narrow candidate resolution. Zero-valued fields are ignored.
type UnitFilters struct {
	FacilityID string
	UnitID     string
	Kind       string
	State      string
	Department string
	RoomType   string
	Category   string
	BloodType  string
	DoctorID   string
}

// ListUnits returns units in registry insertion order (rowid), which is the
// deterministic order the coordinator iterates candidates in.
func (r Repo) ListUnits(ctx context.Context, f UnitFilters) ([]domain.ResourceUnit, error) {
	var clauses []string
	var args []any
	add := func(col, val string) {
		if val != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, val)
		}
	}
	add("facility_id", f.FacilityID)
	add("id", f.UnitID)
	add("kind", f.Kind)
	add("state", f.State)
	add("department", f.Department)
	add("room_type", f.RoomType)
	add("category", f.Category)
	add("blood_type", f.BloodType)
	add("doctor_id", f.DoctorID)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+unitColumns+` FROM units `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUnitCAS writes the mutable unit columns guarded by the version
// counter. Zero affected rows means another writer got there first.
// This is the sole mutation point for capacity and state.
func (r Repo) UpdateUnitCAS(ctx context.Context, tx *sql.Tx, u domain.ResourceUnit, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE units SET capacity=?, allocated=?, state=?, expiry=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		u.Capacity, u.Allocated, u.State, nullableStringPtr(u.Expiry), u.UpdatedAt, u.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// DecommissionUnit marks a unit out of service. Refused while any
// reservation is still open against it.
func (r Repo) DecommissionUnit(ctx context.Context, tx *sql.Tx, id string, expectedVersion int64, now string) error {
	var open int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE unit_id=? AND status IN ('pending','active')`, id).Scan(&open)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: unit has %d open reservations", ErrConflict, open)
	}
	res, err := tx.ExecContext(ctx, `UPDATE units SET state='decommissioned', version=version+1, updated_at=? WHERE id=? AND version=?`,
		now, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
