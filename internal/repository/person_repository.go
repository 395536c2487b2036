package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/visitor-access-control/internal/model"
)

// PersonRepo encapsulates queries for the `persons` table.
type PersonRepo struct {
	db *sql.DB
}

// NewPersonRepo constructs a PersonRepo.
func NewPersonRepo(db *sql.DB) *PersonRepo { return &PersonRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *PersonRepo) DB() *sql.DB { return r.db }

const personColumns = "id, dni, first_name, last_name, phone, email, badge_number, notes, photo_key, created_at, updated_at"

func scanPerson(s rowScanner) (*model.Person, error) {
	var (
		p                          model.Person
		phone, email, notes, photo sql.NullString
	)
	if err := s.Scan(&p.ID, &p.DNI, &p.FirstName, &p.LastName, &phone, &email,
		&p.BadgeNumber, &notes, &photo, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Phone = nullStringPtr(phone)
	p.Email = nullStringPtr(email)
	p.Notes = nullStringPtr(notes)
	p.PhotoKey = nullStringPtr(photo)
	p.HasPhoto = p.PhotoKey != nil
	return &p, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *PersonRepo) getOne(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, where string, arg any) (*model.Person, error) {
	p, err := scanPerson(q.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetByID fetches a person or returns ErrNotFound.
func (r *PersonRepo) GetByID(ctx context.Context, id uint64) (*model.Person, error) {
	return r.getOne(ctx, r.db, "id = ?", id)
}

// GetByDNI fetches a person by national id or returns ErrNotFound.
func (r *PersonRepo) GetByDNI(ctx context.Context, dni int64) (*model.Person, error) {
	return r.getOne(ctx, r.db, "dni = ?", dni)
}

// GetByDNIForUpdateTx locks the person row matching dni.
func (r *PersonRepo) GetByDNIForUpdateTx(ctx context.Context, tx *sql.Tx, dni int64) (*model.Person, error) {
	return r.getOne(ctx, tx, "dni = ? FOR UPDATE", dni)
}

// GetByIDForUpdateTx locks the person row matching id.
func (r *PersonRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Person, error) {
	return r.getOne(ctx, tx, "id = ? FOR UPDATE", id)
}

// CreateTx inserts a person and sets its id.
func (r *PersonRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Person) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO persons (dni, first_name, last_name, phone, email, badge_number, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.DNI, p.FirstName, p.LastName, p.Phone, p.Email, p.BadgeNumber, p.Notes)
	if err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// UpdateTx refreshes the mutable fields of a person.
func (r *PersonRepo) UpdateTx(ctx context.Context, tx *sql.Tx, p *model.Person) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE persons SET dni = ?, first_name = ?, last_name = ?, phone = ?, email = ?,
		 badge_number = ?, notes = ? WHERE id = ?`,
		p.DNI, p.FirstName, p.LastName, p.Phone, p.Email, p.BadgeNumber, p.Notes, p.ID)
	if err != nil && IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// SetPhotoKey records where the person's photo is stored.
func (r *PersonRepo) SetPhotoKey(ctx context.Context, id uint64, key string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE persons SET photo_key = ? WHERE id = ?", key, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts or refreshes a person keyed by dni and returns its id.
// Empty optional fields do not overwrite stored values.
func (r *PersonRepo) Upsert(ctx context.Context, p *model.Person) (uint64, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO persons (dni, first_name, last_name, phone, email, badge_number, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   id = LAST_INSERT_ID(id),
		   first_name = VALUES(first_name),
		   last_name = VALUES(last_name),
		   phone = COALESCE(VALUES(phone), phone),
		   email = COALESCE(VALUES(email), email),
		   badge_number = IF(VALUES(badge_number) = '', badge_number, VALUES(badge_number)),
		   notes = COALESCE(VALUES(notes), notes)`,
		p.DNI, p.FirstName, p.LastName, p.Phone, p.Email, p.BadgeNumber, p.Notes)
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	n, _ := res.RowsAffected()
	// MySQL reports 1 for a fresh insert, 2 for an update, 0 for a no-op.
	return uint64(id), n == 1, nil
}

// PersonQuery filters the admin person list.
type PersonQuery struct {
	Search   string
	Page     int
	PageSize int
}

// List returns persons ordered by last name then first name, plus the
// total matching count.
func (r *PersonRepo) List(ctx context.Context, q PersonQuery) ([]*model.Person, int64, error) {
	cond := "1=1"
	var args []any
	if s := strings.TrimSpace(q.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		cond = `(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?
			OR CAST(dni AS CHAR) LIKE ? OR LOWER(badge_number) LIKE ?)`
		args = append(args, like, like, like, like)
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(q.Page, q.PageSize, 20)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+personColumns+" FROM persons WHERE "+cond+" ORDER BY last_name, first_name LIMIT ? OFFSET ?",
		append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]*model.Person, 0, size)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Count returns the number of registered persons.
func (r *PersonRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM persons").Scan(&n)
	return n, err
}

func normalizePage(page, size, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = def
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
