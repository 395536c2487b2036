package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/visitor-access-control/internal/model"
)

// OrgUnitRepo encapsulates queries for the `org_units` table.  Parent
// linkage is by code, so the repository also exposes the cascade update
// used when a code changes.
type OrgUnitRepo struct {
	db *sql.DB
}

// NewOrgUnitRepo constructs an OrgUnitRepo.
func NewOrgUnitRepo(db *sql.DB) *OrgUnitRepo { return &OrgUnitRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *OrgUnitRepo) DB() *sql.DB { return r.db }

const orgUnitColumns = "id, name, code, parent_code, active, previous_name"

func scanOrgUnit(s rowScanner) (*model.OrgUnit, error) {
	var (
		u        model.OrgUnit
		parent   sql.NullString
		previous sql.NullString
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Code, &parent, &u.Active, &previous); err != nil {
		return nil, err
	}
	if parent.Valid && strings.TrimSpace(parent.String) != "" {
		p := parent.String
		u.ParentCode = &p
	}
	if previous.Valid {
		p := previous.String
		u.PreviousName = &p
	}
	return &u, nil
}

func collectOrgUnits(rows *sql.Rows) ([]*model.OrgUnit, error) {
	defer rows.Close()
	var out []*model.OrgUnit
	for rows.Next() {
		u, err := scanOrgUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetByID fetches a unit or returns ErrNotFound.
func (r *OrgUnitRepo) GetByID(ctx context.Context, id uint64) (*model.OrgUnit, error) {
	u, err := scanOrgUnit(r.db.QueryRowContext(ctx, "SELECT "+orgUnitColumns+" FROM org_units WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetByIDForUpdateTx locks a unit row inside tx.
func (r *OrgUnitRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.OrgUnit, error) {
	u, err := scanOrgUnit(tx.QueryRowContext(ctx, "SELECT "+orgUnitColumns+" FROM org_units WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListAllTx returns every unit ordered by code, read inside tx so
// hierarchy validation sees a consistent snapshot.
func (r *OrgUnitRepo) ListAllTx(ctx context.Context, tx *sql.Tx) ([]*model.OrgUnit, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+orgUnitColumns+" FROM org_units ORDER BY code FOR UPDATE")
	if err != nil {
		return nil, err
	}
	return collectOrgUnits(rows)
}

// ListAll returns every unit ordered by code.
func (r *OrgUnitRepo) ListAll(ctx context.Context) ([]*model.OrgUnit, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+orgUnitColumns+" FROM org_units ORDER BY code")
	if err != nil {
		return nil, err
	}
	return collectOrgUnits(rows)
}

// ListBySite returns the units associated with a site ordered by code.
func (r *OrgUnitRepo) ListBySite(ctx context.Context, siteID uint64) ([]*model.OrgUnit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT u.id, u.name, u.code, u.parent_code, u.active, u.previous_name
		FROM org_units u
		JOIN site_org_units s ON s.org_unit_id = u.id
		WHERE s.site_id = ?
		ORDER BY u.code`, siteID)
	if err != nil {
		return nil, err
	}
	return collectOrgUnits(rows)
}

// InsertTx creates a unit and sets its id.
func (r *OrgUnitRepo) InsertTx(ctx context.Context, tx *sql.Tx, u *model.OrgUnit) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO org_units (name, code, parent_code, active) VALUES (?, ?, ?, ?)",
		u.Name, u.Code, nullIfBlank(u.ParentCode), u.Active)
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
	u.ID = uint64(id)
	return nil
}

// UpdateTx rewrites every mutable column of the unit.
func (r *OrgUnitRepo) UpdateTx(ctx context.Context, tx *sql.Tx, u *model.OrgUnit) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE org_units SET name = ?, code = ?, parent_code = ?, active = ?, previous_name = ? WHERE id = ?",
		u.Name, u.Code, nullIfBlank(u.ParentCode), u.Active, u.PreviousName, u.ID)
	if err != nil && IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// ReparentChildrenTx points every child of oldCode at newCode and
// returns the number of rows changed.
func (r *OrgUnitRepo) ReparentChildrenTx(ctx context.Context, tx *sql.Tx, oldCode, newCode string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE org_units SET parent_code = ? WHERE parent_code = ?", newCode, oldCode)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountChildrenTx counts units whose parent code is code.
func (r *OrgUnitRepo) CountChildrenTx(ctx context.Context, tx *sql.Tx, code string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM org_units WHERE parent_code = ?", code).Scan(&n)
	return n, err
}

// CountVisitsTx counts visits whose destination is the unit.
func (r *OrgUnitRepo) CountVisitsTx(ctx context.Context, tx *sql.Tx, id uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits WHERE org_unit_id = ?", id).Scan(&n)
	return n, err
}

// DeleteTx removes the unit row.
func (r *OrgUnitRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM org_units WHERE id = ?", id)
	return err
}

func nullIfBlank(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return strings.TrimSpace(*s)
}
