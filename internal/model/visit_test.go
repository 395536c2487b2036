package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVisitCheckTimes(t *testing.T) {
	entry := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	v := &Visit{EntryAt: entry}
	assert.True(t, v.IsOpen())
	assert.NoError(t, v.CheckTimes())

	same := entry
	v.ExitAt = &same
	assert.ErrorIs(t, v.CheckTimes(), ErrExitNotAfterEntry)

	before := entry.Add(-time.Minute)
	v.ExitAt = &before
	assert.ErrorIs(t, v.CheckTimes(), ErrExitNotAfterEntry)

	after := entry.Add(time.Microsecond)
	v.ExitAt = &after
	assert.False(t, v.IsOpen())
	assert.NoError(t, v.CheckTimes())
}

func TestReceptionistFullName(t *testing.T) {
	assert.Equal(t, "No especificado", (&Visit{}).ReceptionistFullName())
	assert.Equal(t, "Ana", (&Visit{ReceptionistName: "Ana"}).ReceptionistFullName())
	assert.Equal(t, "Ana Pérez", (&Visit{ReceptionistName: "Ana", ReceptionistSurname: "Pérez"}).ReceptionistFullName())
}

func TestOrgUnitParent(t *testing.T) {
	blank := "  "
	dgs := " DGS "
	assert.False(t, (&OrgUnit{}).HasParent())
	assert.False(t, (&OrgUnit{ParentCode: &blank}).HasParent())
	u := &OrgUnit{ParentCode: &dgs}
	assert.True(t, u.HasParent())
	assert.Equal(t, "DGS", u.Parent())
}
