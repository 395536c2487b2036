package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

func unit(id uint64, code, parent string) *model.OrgUnit {
	u := &model.OrgUnit{ID: id, Name: "Unidad " + code, Code: code, Active: true}
	if parent != "" {
		p := parent
		u.ParentCode = &p
	}
	return u
}

// tree is MS > {DGS > DCA, DRH}.
func tree() []*model.OrgUnit {
	return []*model.OrgUnit{
		unit(1, "MS", ""),
		unit(2, "DGS", "MS"),
		unit(3, "DCA", "DGS"),
		unit(4, "DRH", "MS"),
	}
}

func TestDeriveKinds(t *testing.T) {
	kinds, err := DeriveKinds(tree())
	require.NoError(t, err)
	assert.Equal(t, model.KindInstitution, kinds["MS"])
	assert.Equal(t, model.KindArea, kinds["DGS"])
	assert.Equal(t, model.KindArea, kinds["DRH"])
	assert.Equal(t, model.KindSubArea, kinds["DCA"])

	_, err = DeriveKinds(append(tree(), unit(5, "X", "NOPE")))
	assert.ErrorIs(t, err, ErrBrokenHierarchy)

	_, err = DeriveKinds([]*model.OrgUnit{unit(1, "A", "B"), unit(2, "B", "A")})
	assert.ErrorIs(t, err, ErrBrokenHierarchy)
}

func TestWithKindsLeavesBrokenBlank(t *testing.T) {
	units := withKinds(append(tree(), unit(5, "X", "NOPE")))
	assert.Equal(t, model.KindSubArea, units[2].Kind)
	assert.Equal(t, model.OrgUnitKind(""), units[4].Kind)
}

func parentErr(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	return ve.Fields["parent_code"]
}

func TestCheckHierarchy(t *testing.T) {
	t.Run("new area", func(t *testing.T) {
		units := tree()
		c := unit(0, "DAF", "MS")
		assert.NoError(t, checkHierarchy(append(units, c), c))
	})
	t.Run("self parent", func(t *testing.T) {
		units := tree()
		c := unit(0, "X", "X")
		assert.Equal(t, "a unit cannot be its own parent", parentErr(t, checkHierarchy(append(units, c), c)))
	})
	t.Run("unknown parent", func(t *testing.T) {
		units := tree()
		c := unit(0, "X", "NOPE")
		assert.Equal(t, "unknown parent code", parentErr(t, checkHierarchy(append(units, c), c)))
	})
	t.Run("sub-area as parent", func(t *testing.T) {
		units := tree()
		c := unit(0, "X", "DCA")
		assert.Equal(t, "a sub-area cannot be a parent", parentErr(t, checkHierarchy(append(units, c), c)))
	})
	t.Run("duplicate code", func(t *testing.T) {
		units := tree()
		c := unit(0, "DGS", "MS")
		var ve *ValidationError
		require.True(t, errors.As(checkHierarchy(append(units, c), c), &ve))
		assert.Equal(t, "already in use", ve.Fields["code"])
	})
	t.Run("cycle", func(t *testing.T) {
		units := tree()
		units[0].ParentCode = &units[2].Code // MS under DCA
		assert.Contains(t, parentErr(t, checkHierarchy(units, units[0])), "cycle")
	})
	t.Run("moving an area with children below another area", func(t *testing.T) {
		units := tree()
		units[1].ParentCode = &units[3].Code // DGS under DRH drags DCA to depth 3
		assert.Equal(t, "its children would sit below a sub-area", parentErr(t, checkHierarchy(units, units[1])))
	})
}

func newOrgUnitService(t *testing.T) (*OrgUnitService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOrgUnitService(repository.NewOrgUnitRepo(db), nil), mock
}

func treeRows() *sqlmock.Rows {
	return sqlmock.NewRows(unitCols).
		AddRow(3, "Dirección de Compras", "DCA", "DGS", true, nil).
		AddRow(2, "Dirección General de Salud", "DGS", "MS", true, nil).
		AddRow(4, "Dirección de RRHH", "DRH", "MS", true, nil).
		AddRow(1, "Ministerio de Salud", "MS", nil, true, nil)
}

func TestOrgUnitRenameCascades(t *testing.T) {
	svc, mock := newOrgUnitService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(2, "Dirección General de Salud", "DGS", "MS", true, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units ORDER BY code FOR UPDATE")).
		WillReturnRows(treeRows())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE org_units SET name = ?, code = ?, parent_code = ?, active = ?, previous_name = ? WHERE id = ?")).
		WithArgs("Dirección General de Salud", "DGS2", "MS", true, nil, uint64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE org_units SET parent_code = ? WHERE parent_code = ?")).
		WithArgs("DGS2", "DGS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := svc.Update(context.Background(), admin(), 2, OrgUnitInput{
		Name: "Dirección General de Salud", Code: "DGS2", ParentCode: "MS", Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "DGS2", u.Code)
	assert.Equal(t, model.KindArea, u.Kind)
	assert.Nil(t, u.PreviousName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitRenameKeepsPreviousName(t *testing.T) {
	svc, mock := newOrgUnitService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(4, "Dirección de RRHH", "DRH", "MS", true, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units ORDER BY code FOR UPDATE")).
		WillReturnRows(treeRows())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE org_units SET name = ?")).
		WithArgs("Dirección de Personal", "DRH", "MS", true, "Dirección de RRHH", uint64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := svc.Update(context.Background(), admin(), 4, OrgUnitInput{
		Name: "Dirección de Personal", Code: "DRH", ParentCode: "MS", Active: true,
	})
	require.NoError(t, err)
	require.NotNil(t, u.PreviousName)
	assert.Equal(t, "Dirección de RRHH", *u.PreviousName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitUpdateRejectsCycle(t *testing.T) {
	svc, mock := newOrgUnitService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(1, "Ministerio de Salud", "MS", nil, true, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units ORDER BY code FOR UPDATE")).
		WillReturnRows(treeRows())
	mock.ExpectRollback()

	_, err := svc.Update(context.Background(), admin(), 1, OrgUnitInput{
		Name: "Ministerio de Salud", Code: "MS", ParentCode: "DCA", Active: true,
	})
	assert.Contains(t, parentErr(t, err), "cycle")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitDeleteWithChildren(t *testing.T) {
	svc, mock := newOrgUnitService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(2, "Dirección General de Salud", "DGS", "MS", true, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM org_units WHERE parent_code = ?")).
		WithArgs("DGS").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM visits WHERE org_unit_id = ?")).
		WithArgs(uint64(2)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), admin(), 2)
	assert.ErrorIs(t, err, ErrHasDependents)
	var de *DependentsError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitDeleteLeaf(t *testing.T) {
	svc, mock := newOrgUnitService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(3, "Dirección de Compras", "DCA", "DGS", true, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM org_units WHERE parent_code = ?")).
		WithArgs("DCA").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM visits WHERE org_unit_id = ?")).
		WithArgs(uint64(3)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM org_units WHERE id = ?")).
		WithArgs(uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), admin(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitWritesRequireAdmin(t *testing.T) {
	svc, _ := newOrgUnitService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, operator(1), OrgUnitInput{Name: "X", Code: "X"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Update(ctx, operator(1), 1, OrgUnitInput{Name: "X", Code: "X"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, operator(1), 1), ErrForbidden)
}

func TestSiteDeleteReportsDependents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewSiteService(repository.NewSiteRepo(db), repository.NewOrgUnitRepo(db), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM site_org_units WHERE site_id = ?")).
		WithArgs(uint64(1)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM visits WHERE site_id = ?")).
		WithArgs(uint64(1)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectRollback()

	err = svc.Delete(context.Background(), admin(), 1)
	var de *DependentsError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 5, de.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
