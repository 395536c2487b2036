package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/visitor-access-control/internal/queue"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

type fakeMetrics struct {
	conflicts []string
	ops       map[string]bool
}

func (f *fakeMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	if f.ops == nil {
		f.ops = map[string]bool{}
	}
	f.ops[op] = success
}

func (f *fakeMetrics) Conflict(reason string) { f.conflicts = append(f.conflicts, reason) }

type fakeEvents struct{ got []queue.VisitEvent }

func (f *fakeEvents) Publish(_ context.Context, ev queue.VisitEvent) error {
	f.got = append(f.got, ev)
	return nil
}

type visitFixture struct {
	svc     *VisitService
	mock    sqlmock.Sqlmock
	metrics *fakeMetrics
	events  *fakeEvents
	loc     *time.Location
}

func newVisitFixture(t *testing.T) *visitFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)

	m, ev := &fakeMetrics{}, &fakeEvents{}
	svc := NewVisitService(repository.NewSiteRepo(db), repository.NewOrgUnitRepo(db), repository.NewPersonRepo(db),
		repository.NewVisitRepo(db, loc), nil, ev, m, nil)
	svc.Now = func() time.Time { return time.Date(2024, 5, 2, 18, 0, 0, 0, loc) }
	return &visitFixture{svc: svc, mock: mock, metrics: m, events: ev, loc: loc}
}

var (
	siteCols   = []string{"id", "name", "address", "active", "created_at", "updated_at"}
	unitCols   = []string{"id", "name", "code", "parent_code", "active", "previous_name"}
	personCols = []string{"id", "dni", "first_name", "last_name", "phone", "email", "badge_number", "notes", "photo_key", "created_at", "updated_at"}
	visitCols  = []string{"id", "person_id", "site_id", "org_unit_id", "badge", "ed", "et", "xd", "xt",
		"rn", "rs", "notes", "created_by", "created_at", "updated_at"}
	holderCols = []string{"id", "pid", "first", "last", "sid", "sname", "badge", "d", "t"}
)

func siteRows(id uint64, name string) *sqlmock.Rows {
	return sqlmock.NewRows(siteCols).AddRow(id, name, nil, true, time.Now(), time.Now())
}

func personRows() *sqlmock.Rows {
	return sqlmock.NewRows(personCols).
		AddRow(3, 30111222, "Ana", "Gómez", nil, nil, "V001", nil, nil, time.Now(), time.Now())
}

func checkInInput(site uint64) CheckInInput {
	return CheckInInput{
		DNI: 30111222, FirstName: " Ana ", LastName: "Gómez", Badge: "V001",
		SiteID: site, OrgUnitID: 4, ReceptionistName: "Laura", ReceptionistSurname: "Díaz",
	}
}

// expectTargets covers the pre-transaction existence checks for a
// known person.
func (f *visitFixture) expectTargets(site uint64, siteName string) {
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ?")).
		WithArgs(site).WillReturnRows(siteRows(site, siteName))
	f.expectUnit(site, 4)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE dni = ?")).
		WithArgs(int64(30111222)).WillReturnRows(personRows())
}

// expectUnit serves org unit 4 and the site's unit associations.
func (f *visitFixture) expectUnit(site uint64, linked ...uint64) {
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ?")).
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(4, "Dirección de Compras", "DCA", "DGS", true, nil))
	rows := sqlmock.NewRows([]string{"org_unit_id"})
	for _, id := range linked {
		rows.AddRow(id)
	}
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT org_unit_id FROM site_org_units WHERE site_id = ?")).
		WithArgs(site).WillReturnRows(rows)
}

func TestCheckInRejectsUnitOfAnotherSite(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ?")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.expectUnit(1, 2, 7)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE dni = ?")).
		WithArgs(int64(30111222)).WillReturnRows(personRows())

	_, err := f.svc.CheckIn(context.Background(), admin(), checkInInput(1))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "org unit does not belong to the site", ve.Fields["org_unit_id"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckInBadgeInUseAtSameSite(t *testing.T) {
	f := newVisitFixture(t)
	f.expectTargets(1, "Sede Central Buenos Aires")
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(1), "V001").
		WillReturnRows(sqlmock.NewRows(holderCols).
			AddRow(7, 2, "Juan", "Pérez", 1, "Sede Central Buenos Aires", "V001", "2024-05-02", "09:15:00.000000"))
	f.mock.ExpectRollback()

	_, err := f.svc.CheckIn(context.Background(), admin(), checkInInput(1))
	var bie *BadgeInUseError
	require.True(t, errors.As(err, &bie), "got %v", err)
	assert.Equal(t, uint64(7), bie.VisitID)
	assert.Equal(t, "Juan", bie.FirstName)
	assert.Contains(t, bie.Message(), "desde 02/05/2024 a las 09:15")
	assert.Equal(t, []string{"badge_in_use"}, f.metrics.conflicts)
	assert.False(t, f.metrics.ops["check_in"])
	assert.Empty(t, f.events.got)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckInPinsOperatorSite(t *testing.T) {
	f := newVisitFixture(t)
	// the La Plata operator submits Central; the visit lands in La Plata
	f.expectTargets(2, "Sede La Plata")
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(2)).WillReturnRows(siteRows(2, "Sede La Plata"))
	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(2), "V001").WillReturnRows(sqlmock.NewRows(holderCols))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE dni = ? FOR UPDATE")).
		WithArgs(int64(30111222)).WillReturnRows(personRows())
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO visits")).
		WithArgs(uint64(3), uint64(2), uint64(4), "V001", "2024-05-02", "18:00:00.000000",
			"Laura", "Díaz", nil, uint64(5)).
		WillReturnResult(sqlmock.NewResult(42, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.CheckIn(context.Background(), operator(2), checkInInput(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Visit.ID)
	assert.Equal(t, uint64(2), res.Visit.SiteID)
	assert.True(t, res.Visit.IsOpen())
	assert.Equal(t, "Ana", res.Person.FirstName)
	assert.False(t, res.PhotoSaved)
	assert.True(t, f.metrics.ops["check_in"])

	require.Len(t, f.events.got, 1)
	ev := f.events.got[0]
	assert.Equal(t, queue.EventCheckedIn, ev.Type)
	assert.Equal(t, "Sede La Plata", ev.SiteName)
	assert.Equal(t, "Ana Gómez", ev.PersonName)
	assert.Equal(t, uint64(5), ev.UserID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckInDuplicateKeyReportsHolder(t *testing.T) {
	f := newVisitFixture(t)
	f.expectTargets(1, "Sede Central Buenos Aires")
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(1), "V001").WillReturnRows(sqlmock.NewRows(holderCols))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE dni = ? FOR UPDATE")).
		WithArgs(int64(30111222)).WillReturnRows(personRows())
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO visits")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'V001-1' for key 'open_badge_key'"})
	f.mock.ExpectRollback()
	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(1), "V001").
		WillReturnRows(sqlmock.NewRows(holderCols).
			AddRow(8, 2, "Juan", "Pérez", 1, "Sede Central Buenos Aires", "V001", "2024-05-02", "17:59:59.000000"))

	_, err := f.svc.CheckIn(context.Background(), admin(), checkInInput(1))
	var bie *BadgeInUseError
	require.True(t, errors.As(err, &bie), "got %v", err)
	assert.Equal(t, uint64(8), bie.VisitID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckInRejectsBeforeTouchingStore(t *testing.T) {
	f := newVisitFixture(t)

	_, err := f.svc.CheckIn(context.Background(), Actor{UserID: 9}, checkInInput(1))
	assert.ErrorIs(t, err, ErrNoSiteAssigned)

	in := checkInInput(1)
	in.DNI, in.Badge, in.ReceptionistName = 0, "V0000000001", ""
	_, err = f.svc.CheckIn(context.Background(), admin(), in)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "dni")
	assert.Contains(t, ve.Fields, "badge_number")
	assert.Contains(t, ve.Fields, "receptionist_name")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckInNewPersonNeedsPhoto(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ?")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.expectUnit(1)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE dni = ?")).
		WithArgs(int64(30111222)).WillReturnRows(sqlmock.NewRows(personCols))

	_, err := f.svc.CheckIn(context.Background(), admin(), checkInInput(1))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "required for new visitors", ve.Fields["photo"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func visitRow(site uint64, exitDate, exitTime any) *sqlmock.Rows {
	return sqlmock.NewRows(visitCols).AddRow(9, 3, site, 4, "V001", "2024-05-02", "09:15:00.000000",
		exitDate, exitTime, "Laura", "Díaz", nil, 5, time.Now(), time.Now())
}

func TestCheckOutClosesAndPublishes(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ? FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, nil, nil))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE visits SET exit_date = ?, exit_time = ? WHERE id = ? AND exit_time IS NULL")).
		WithArgs("2024-05-02", "18:00:00.000000", uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM persons WHERE id = ?")).
		WithArgs(uint64(3)).WillReturnRows(personRows())
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ?")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))

	v, err := f.svc.CheckOut(context.Background(), operator(1), 9)
	require.NoError(t, err)
	require.NotNil(t, v.ExitAt)
	assert.NoError(t, v.CheckTimes())
	assert.Equal(t, 18, v.ExitAt.Hour())

	require.Len(t, f.events.got, 1)
	assert.Equal(t, queue.EventCheckedOut, f.events.got[0].Type)
	assert.Equal(t, "Sede Central Buenos Aires", f.events.got[0].SiteName)
	assert.True(t, f.metrics.ops["check_out"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckOutAlreadyClosed(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, "2024-05-02", "10:00:00.000000"))
	f.mock.ExpectRollback()

	_, err := f.svc.CheckOut(context.Background(), admin(), 9)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.Equal(t, []string{"already_closed"}, f.metrics.conflicts)
	assert.Empty(t, f.events.got)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckOutOtherSiteForbidden(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, nil, nil))
	f.mock.ExpectRollback()

	_, err := f.svc.CheckOut(context.Background(), operator(2), 9)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckOutMissingVisit(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(uint64(404)).WillReturnRows(sqlmock.NewRows(visitCols))
	f.mock.ExpectRollback()

	_, err := f.svc.CheckOut(context.Background(), admin(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "visit not found")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBadgeAvailability(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()

	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(2), "V001").WillReturnRows(sqlmock.NewRows(holderCols))
	st, err := f.svc.BadgeAvailability(ctx, operator(2), 1, " V001 ")
	require.NoError(t, err)
	assert.True(t, st.Available)

	f.mock.ExpectQuery(regexp.QuoteMeta("v.exit_time IS NULL")).
		WithArgs(uint64(1), "V001").
		WillReturnRows(sqlmock.NewRows(holderCols).
			AddRow(7, 2, "Juan", "Pérez", 1, "Sede Central Buenos Aires", "V001", "2024-05-02", "09:15:00.000000"))
	st, err = f.svc.BadgeAvailability(ctx, admin(), 1, "V001")
	require.NoError(t, err)
	assert.False(t, st.Available)
	assert.Equal(t, uint64(7), st.VisitID)
	assert.Contains(t, st.Message, "Juan Pérez")

	_, err = f.svc.BadgeAvailability(ctx, admin(), 0, "V001")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "site_id")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCorrectRequiresAdmin(t *testing.T) {
	f := newVisitFixture(t)
	_, err := f.svc.Correct(context.Background(), operator(1), 9, CorrectionInput{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCorrectRejectsExitBeforeEntry(t *testing.T) {
	f := newVisitFixture(t)
	closed := func() *sqlmock.Rows { return visitRow(1, "2024-05-02", "10:00:00.000000") }
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ?")).
		WithArgs(uint64(9)).WillReturnRows(closed())
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ? FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(closed())
	f.mock.ExpectRollback()

	exit := time.Date(2024, 5, 2, 9, 0, 0, 0, f.loc)
	_, err := f.svc.Correct(context.Background(), admin(), 9, CorrectionInput{ExitAt: &exit})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "exit_at")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCorrectKeepsClosedVisitClosed(t *testing.T) {
	f := newVisitFixture(t)
	closed := func() *sqlmock.Rows { return visitRow(1, "2024-05-02", "10:00:00.000000") }
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ?")).
		WithArgs(uint64(9)).WillReturnRows(closed())
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ? FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(closed())
	f.mock.ExpectExec(regexp.QuoteMeta("exit_date = COALESCE(?, exit_date)")).
		WithArgs(uint64(4), "Marta", "Díaz", nil, "2024-05-02", "10:00:00.000000", uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	name := "Marta"
	v, err := f.svc.Correct(context.Background(), admin(), 9, CorrectionInput{ReceptionistName: &name})
	require.NoError(t, err)
	assert.False(t, v.IsOpen())
	require.NotNil(t, v.ExitAt)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, f.loc), *v.ExitAt)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCorrectCannotCloseOpenVisit(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ?")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, nil, nil))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ? FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, nil, nil))
	f.mock.ExpectRollback()

	exit := time.Date(2024, 5, 2, 12, 0, 0, 0, f.loc)
	_, err := f.svc.Correct(context.Background(), admin(), 9, CorrectionInput{ExitAt: &exit})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields["exit_at"], "check-out")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCorrectRejectsUnitOfAnotherSite(t *testing.T) {
	f := newVisitFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ?")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, "2024-05-02", "10:00:00.000000"))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sites WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(1)).WillReturnRows(siteRows(1, "Sede Central Buenos Aires"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM visits v WHERE v.id = ? FOR UPDATE")).
		WithArgs(uint64(9)).WillReturnRows(visitRow(1, "2024-05-02", "10:00:00.000000"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM org_units WHERE id = ?")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow(5, "Tesorería", "TES", nil, true, nil))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT org_unit_id FROM site_org_units WHERE site_id = ?")).
		WithArgs(uint64(1)).WillReturnRows(sqlmock.NewRows([]string{"org_unit_id"}).AddRow(4))
	f.mock.ExpectRollback()

	unit := uint64(5)
	_, err := f.svc.Correct(context.Background(), admin(), 9, CorrectionInput{OrgUnitID: &unit})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "org unit does not belong to the site", ve.Fields["org_unit_id"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
