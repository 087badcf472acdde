package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"instaq/internal/apperr"
	"instaq/internal/auth"
	"instaq/internal/store"
)

// Repository persists attendance records. A record row and its member rows
// are always written and removed in one transaction.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, qr_type, scan_date, scan_time, scanned_by, scanned_at,
	longitude, latitude, user_agent, ip_address, status, notes, updated_at`

// Insert writes a new record with its family members.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if len(rec.QRCodeData.FamilyMembers) == 0 {
		return apperr.Invalid("qrCodeData.familyMembers", "At least one family member is required")
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO attendance_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			rec.ID, rec.QRCodeData.Type, rec.QRCodeData.Date, rec.QRCodeData.Time,
			rec.ScannedBy.ID, rec.ScannedAt.UnixNano(),
			rec.Location.Coordinates[0], rec.Location.Coordinates[1],
			rec.DeviceInfo.UserAgent, rec.DeviceInfo.IPAddress,
			string(rec.Status), rec.Notes, rec.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		insertMember := r.db.Rebind(`
			INSERT INTO attendance_members (record_id, position, name, age, is_child, phone, address, emergency_contact)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		for i, m := range rec.QRCodeData.FamilyMembers {
			if _, err := tx.ExecContext(ctx, insertMember,
				rec.ID, i, m.Name, m.Age, m.IsChild, m.Phone, m.Address, m.EmergencyContact); err != nil {
				return fmt.Errorf("insert member %d: %w", i, err)
			}
		}
		return nil
	})
}

// Get returns a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT `+recordColumns+` FROM attendance_records WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	recs := []Record{rec}
	if err := r.loadMembers(ctx, recs); err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

// List returns records matching f, most recent scan first.
func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	where, args := whereClause(f, "")
	query := `SELECT ` + recordColumns + ` FROM attendance_records` + where +
		` ORDER BY scanned_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns how many records match f.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f, "")
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM attendance_records`+where), args...).Scan(&n)
	return n, err
}

// UpdateStatus overwrites status, and notes when non-nil.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, notes *string, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if notes != nil {
		res, err = r.db.Client.ExecContext(ctx, r.db.Rebind(`
			UPDATE attendance_records SET status = ?, notes = ?, updated_at = ? WHERE id = ?
		`), string(status), *notes, at.UnixNano(), id)
	} else {
		res, err = r.db.Client.ExecContext(ctx, r.db.Rebind(`
			UPDATE attendance_records SET status = ?, updated_at = ? WHERE id = ?
		`), string(status), at.UnixNano(), id)
	}
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Delete removes a record and its members permanently.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance_records WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance_members WHERE record_id = ?`), id)
		return err
	})
}

// Stats aggregates the records matching the date filter.
func (r *Repository) Stats(ctx context.Context, date string) (Stats, error) {
	where, args := whereClause(Filter{Date: date}, "")
	var s Stats
	if err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM attendance_records`+where), args...).
		Scan(&s.TotalScans); err != nil {
		return Stats{}, fmt.Errorf("count scans: %w", err)
	}

	memberWhere, _ := whereClause(Filter{Date: date}, "r.")
	var children sql.NullInt64
	if err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*), SUM(CASE WHEN m.is_child THEN 1 ELSE 0 END)
		FROM attendance_members m
		JOIN attendance_records r ON r.id = m.record_id`+memberWhere), args...).
		Scan(&s.TotalMembers, &children); err != nil {
		return Stats{}, fmt.Errorf("sum members: %w", err)
	}
	s.TotalChildren = children.Int64
	s.TotalAdults = s.TotalMembers - s.TotalChildren
	return s, nil
}

func (r *Repository) loadMembers(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	index := make(map[string]int, len(recs))
	args := make([]any, 0, len(recs))
	for i, rec := range recs {
		index[rec.ID] = i
		args = append(args, rec.ID)
		recs[i].QRCodeData.FamilyMembers = []FamilyMember{}
	}
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT record_id, name, age, is_child, phone, address, emergency_contact
		FROM attendance_members
		WHERE record_id IN (`+store.Placeholders(len(args))+`)
		ORDER BY record_id, position
	`), args...)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			recordID string
			m        FamilyMember
		)
		if err := rows.Scan(&recordID, &m.Name, &m.Age, &m.IsChild, &m.Phone, &m.Address, &m.EmergencyContact); err != nil {
			return err
		}
		i := index[recordID]
		recs[i].QRCodeData.FamilyMembers = append(recs[i].QRCodeData.FamilyMembers, m)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec              Record
		scannedBy        string
		status           string
		scanned, updated int64
	)
	err := row.Scan(
		&rec.ID, &rec.QRCodeData.Type, &rec.QRCodeData.Date, &rec.QRCodeData.Time,
		&scannedBy, &scanned,
		&rec.Location.Coordinates[0], &rec.Location.Coordinates[1],
		&rec.DeviceInfo.UserAgent, &rec.DeviceInfo.IPAddress,
		&status, &rec.Notes, &updated,
	)
	if err != nil {
		return Record{}, err
	}
	rec.ScannedBy = auth.Principal{ID: scannedBy}
	rec.ScannedAt = time.Unix(0, scanned).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	rec.Location.Type = "Point"
	rec.Status = Status(status)
	return rec, nil
}

// whereClause renders f as a WHERE clause; prefix qualifies column names.
func whereClause(f Filter, prefix string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Date != "" {
		clauses = append(clauses, prefix+"scan_date = ?")
		args = append(args, f.Date)
	}
	if f.Status != "" {
		clauses = append(clauses, prefix+"status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
