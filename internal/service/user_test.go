package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

var userCols = []string{"id", "username", "email", "first_name", "last_name", "password_hash",
	"is_superuser", "is_active", "created_at", "updated_at"}

func newUserService(t *testing.T) (*UserService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserService(repository.NewUserRepo(db), repository.NewTokenRepo(db), repository.NewSiteRepo(db),
		bcrypt.MinCost, nil), mock
}

func userRow(hash string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(5, "recepcion", "", "Laura", "Díaz", hash, false, active, time.Now(), time.Now())
}

func TestAuthenticate(t *testing.T) {
	svc, mock := newUserService(t)
	ctx := context.Background()
	hash, err := utils.HashPassword("secreto123", bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("recepcion").WillReturnRows(userRow(hash, true))
	u, err := svc.Authenticate(ctx, " Recepcion ", "secreto123")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), u.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("recepcion").WillReturnRows(userRow(hash, true))
	_, err = svc.Authenticate(ctx, "recepcion", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("recepcion").WillReturnRows(userRow(hash, false))
	_, err = svc.Authenticate(ctx, "recepcion", "secreto123")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("nadie").WillReturnRows(sqlmock.NewRows(userCols))
	_, err = svc.Authenticate(ctx, "nadie", "secreto123")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadActor(t *testing.T) {
	svc, mock := newUserService(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(5)).WillReturnRows(userRow("x", true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles WHERE user_id=?")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "site_id", "is_admin", "c", "u"}).
			AddRow(5, 2, false, time.Now(), time.Now()))
	a, err := svc.LoadActor(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, a.Profile)
	scope, err := ResolveScope(a)
	require.NoError(t, err)
	assert.Equal(t, Scope{SiteID: 2}, scope)

	// no profile row: actor loads, scope resolution fails
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(5)).WillReturnRows(userRow("x", true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles WHERE user_id=?")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "site_id", "is_admin", "c", "u"}))
	a, err = svc.LoadActor(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, a.Profile)
	_, err = ResolveScope(a)
	assert.ErrorIs(t, err, ErrNoSiteAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserValidates(t *testing.T) {
	svc, mock := newUserService(t)
	_, err := svc.Create(context.Background(), operator(1), UserInput{Username: "x", Password: "longenough"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Create(context.Background(), admin(), UserInput{Username: " ", Password: "short", Email: "nope"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc, mock := newUserService(t)
	hash, err := utils.HashPassword("secreto123", bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(5)).WillReturnRows(userRow(hash, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=?")).
		WithArgs(uint64(5)).WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, svc.ChangePassword(context.Background(), operator(1), "secreto123", "nuevo-secreto"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(5)).WillReturnRows(userRow(hash, true))
	err = svc.ChangePassword(context.Background(), operator(1), "otro", "nuevo-secreto")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "current_password")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateRehashesOnCostChange(t *testing.T) {
	svc, mock := newUserService(t)
	hash, err := utils.HashPassword("secreto123", bcrypt.MinCost+1)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username=?")).
		WithArgs("recepcion").WillReturnRows(userRow(hash, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = svc.Authenticate(context.Background(), "recepcion", "secreto123")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
