package seed

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/visitor-access-control/internal/repository"
)

func TestRunStopsWhenAdminExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'admin'"})
	mock.ExpectRollback()

	s := &Seeder{Users: repository.NewUserRepo(db), Cost: bcrypt.MinCost, Log: zap.NewNop()}
	err = s.Run(context.Background(), Options{AdminUsername: "admin", AdminPassword: "cambiar123"})
	assert.ErrorIs(t, err, ErrAlreadySeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgUnitsParentsComeFirst(t *testing.T) {
	seen := map[string]bool{"": true}
	for _, u := range orgUnits {
		assert.True(t, seen[u.parent], "%s listed before its parent %s", u.code, u.parent)
		seen[u.code] = true
	}
}
