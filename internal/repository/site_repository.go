package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/visitor-access-control/internal/model"
)

// SiteRepo encapsulates queries for the `sites` table and the
// `site_org_units` association.
type SiteRepo struct {
	db *sql.DB
}

// NewSiteRepo constructs a SiteRepo with the provided DB handle.
func NewSiteRepo(db *sql.DB) *SiteRepo { return &SiteRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *SiteRepo) DB() *sql.DB { return r.db }

const siteColumns = "id, name, address, active, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(s rowScanner) (*model.Site, error) {
	var (
		st   model.Site
		addr sql.NullString
	)
	if err := s.Scan(&st.ID, &st.Name, &addr, &st.Active, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	if addr.Valid {
		st.Address = &addr.String
	}
	return &st, nil
}

// CreateTx inserts a site and sets its id.
func (r *SiteRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Site) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO sites (name, address, active) VALUES (?, ?, ?)",
		s.Name, s.Address, s.Active)
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
	s.ID = uint64(id)
	return nil
}

// GetByID fetches a site or returns ErrNotFound.
func (r *SiteRepo) GetByID(ctx context.Context, id uint64) (*model.Site, error) {
	s, err := scanSite(r.db.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// LockTx reads a site with an exclusive row lock.  Every check-in at a
// site takes this lock first, which serializes the badge check and the
// visit insert for that site.
func (r *SiteRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Site, error) {
	s, err := scanSite(tx.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// List returns sites ordered by name.  When onlyID is non-zero the
// result is restricted to that site.
func (r *SiteRepo) List(ctx context.Context, activeOnly bool, onlyID uint64) ([]*model.Site, error) {
	q := "SELECT " + siteColumns + " FROM sites WHERE 1=1"
	var args []any
	if activeOnly {
		q += " AND active = 1"
	}
	if onlyID != 0 {
		q += " AND id = ?"
		args = append(args, onlyID)
	}
	q += " ORDER BY name"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateTx rewrites name, address and active flag.  The caller holds the
// row lock, so a missing row was already reported by LockTx.
func (r *SiteRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Site) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE sites SET name = ?, address = ?, active = ? WHERE id = ?",
		s.Name, s.Address, s.Active, s.ID)
	if err != nil && IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Delete removes a site unless org units, visits or user profiles still
// reference it.  The dependents count is returned with ErrConflict.
func (r *SiteRepo) Delete(ctx context.Context, id uint64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := r.LockTx(ctx, tx, id); err != nil {
		return 0, err
	}
	var units, visits int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM site_org_units WHERE site_id = ?", id).Scan(&units); err != nil {
		return 0, err
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visits WHERE site_id = ?", id).Scan(&visits); err != nil {
		return 0, err
	}
	if units+visits > 0 {
		return units + visits, ErrConflict
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sites WHERE id = ?", id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return 0, nil
}

// SetUnitsTx replaces the org units associated with a site.
func (r *SiteRepo) SetUnitsTx(ctx context.Context, tx *sql.Tx, siteID uint64, unitIDs []uint64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM site_org_units WHERE site_id = ?", siteID); err != nil {
		return err
	}
	for _, uid := range unitIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO site_org_units (site_id, org_unit_id) VALUES (?, ?)", siteID, uid); err != nil {
			if IsDuplicate(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// UnitIDs lists org unit ids associated with a site.
func (r *SiteRepo) UnitIDs(ctx context.Context, siteID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT org_unit_id FROM site_org_units WHERE site_id = ? ORDER BY org_unit_id", siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
