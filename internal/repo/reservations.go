package repo

import (
	"context"
	"database/sql"
	"strings"

	"carepool/internal/domain"
)

const reservationColumns = `id,unit_id,requester_id,quantity,window_start,window_end,status,note,created_at,released_at`

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var res domain.Reservation
	var windowStart, windowEnd, note, releasedAt sql.NullString
	err := row.Scan(&res.ID, &res.UnitID, &res.RequesterID, &res.Quantity,
		&windowStart, &windowEnd, &res.Status, &note, &res.CreatedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.WindowStart = strPtr(windowStart)
	res.WindowEnd = strPtr(windowEnd)
	if note.Valid {
		res.Note = note.String
	}
	res.ReleasedAt = strPtr(releasedAt)
	return res, nil
}

func (r Repo) InsertReservation(ctx context.Context, tx *sql.Tx, res domain.Reservation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reservations(`+reservationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.UnitID, res.RequesterID, res.Quantity,
		nullableStringPtr(res.WindowStart), nullableStringPtr(res.WindowEnd),
		res.Status, nullable(res.Note), res.CreatedAt, nullableStringPtr(res.ReleasedAt))
	return err
}

func (r Repo) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	return scanReservation(r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, id))
}

func (r Repo) GetReservationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Reservation, error) {
	return scanReservation(tx.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, id))
}

func (r Repo) UpdateReservationStatus(ctx context.Context, tx *sql.Tx, id, status string, releasedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reservations SET status=?, released_at=? WHERE id=?`,
		status, nullableStringPtr(releasedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns the reservations currently holding capacity on a unit:
// pending requests count against capacity the same as active ones.
func (r Repo) ListActive(ctx context.Context, unitID string) ([]domain.Reservation, error) {
	return r.listReservations(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE unit_id=? AND status IN ('pending','active') ORDER BY created_at ASC, id ASC`, unitID)
}

// ActiveOverlapExists reports whether any capacity-holding reservation on the
// unit overlaps the [start, end) window. Windows are normalized to UTC before
// persisting, so the RFC3339 strings compare correctly lexicographically and
// the check stays inside the ledger transaction.
func (r Repo) ActiveOverlapExists(ctx context.Context, tx *sql.Tx, unitID, start, end string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM reservations
WHERE unit_id=? AND status IN ('pending','active')
AND window_start IS NOT NULL AND window_end IS NOT NULL
AND NOT (window_end <= ? OR window_start >= ?) LIMIT 1`, unitID, start, end)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type ReservationFilters struct {
	FacilityID  string
	UnitID      string
	RequesterID string
	Status      string
	Limit       int
}

func (r Repo) ListReservations(ctx context.Context, f ReservationFilters) ([]domain.Reservation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.FacilityID != "" {
		clauses = append(clauses, "unit_id IN (SELECT id FROM units WHERE facility_id=?)")
		args = append(args, f.FacilityID)
	}
	if f.UnitID != "" {
		clauses = append(clauses, "unit_id=?")
		args = append(args, f.UnitID)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listReservations(ctx, query, args...)
}

// ListStalePending returns pending reservations created at or before the
// cutoff, oldest first. The sweep feeds these back through release.
func (r Repo) ListStalePending(ctx context.Context, facilityID, cutoff string) ([]domain.Reservation, error) {
	return r.listReservations(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE status='pending' AND created_at <= ?
AND unit_id IN (SELECT id FROM units WHERE facility_id=?)
ORDER BY created_at ASC, id ASC`, cutoff, facilityID)
}

func (r Repo) listReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reservation
	for rows.Next() {
		item, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
