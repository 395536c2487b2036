// Package seed fills an empty database with demo sites, an org structure,
// accounts and a few visits.
package seed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

// ErrAlreadySeeded is returned when the admin account exists.
var ErrAlreadySeeded = errors.New("database already seeded")

// Seeder writes the demo data set through the services so every row obeys
// the same rules as API writes.
type Seeder struct {
	Users  *repository.UserRepo
	Sites  *service.SiteService
	Units  *service.OrgUnitService
	Visits *service.VisitService
	Cost   int
	Log    *zap.Logger
}

// Options are the credentials of the seeded accounts.
type Options struct {
	AdminUsername    string
	AdminPassword    string
	OperatorPassword string
}

type unitSpec struct{ name, code, parent string }

var orgUnits = []unitSpec{
	{"Ministerio de Salud", "MS", ""},
	{"Dirección General de Salud", "DGS", "MS"},
	{"Dirección de Compras y Abastecimiento", "DCA", "DGS"},
	{"Dirección de Recursos Humanos", "DRH", "DGS"},
}

type visitorSpec struct {
	dni         int64
	first, last string
	badge       string
	unit        string
	site        int
	leave       bool
}

var visitors = []visitorSpec{
	{30111222, "Ana", "Gómez", "V001", "DCA", 0, true},
	{20999888, "Juan", "Pérez", "V002", "DRH", 0, false},
	{27444555, "María", "López", "V001", "DGS", 1, false},
}

// Run creates everything in order and stops at the first failure.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	adminID, err := s.Users.Create(ctx, repository.NewUser{
		Username:    opts.AdminUsername,
		FirstName:   "Administrador",
		IsSuperuser: true,
		Password:    opts.AdminPassword,
		IsAdmin:     true,
	}, s.Cost)
	if errors.Is(err, repository.ErrUsernameExists) {
		return ErrAlreadySeeded
	}
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	admin := service.Actor{UserID: adminID, Username: opts.AdminUsername, IsSuperuser: true}

	unitIDs := map[string]uint64{}
	for _, u := range orgUnits {
		created, err := s.Units.Create(ctx, admin, service.OrgUnitInput{
			Name: u.name, Code: u.code, ParentCode: u.parent, Active: true,
		})
		if err != nil {
			return fmt.Errorf("org unit %s: %w", u.code, err)
		}
		unitIDs[u.code] = created.ID
	}
	all := make([]uint64, 0, len(unitIDs))
	for _, u := range orgUnits {
		all = append(all, unitIDs[u.code])
	}

	var siteIDs []uint64
	for _, in := range []service.SiteInput{
		{Name: "Sede Central Buenos Aires", Address: "Av. de Mayo 869, CABA", Active: true, UnitIDs: all},
		{Name: "Sede La Plata", Address: "Calle 51 1120, La Plata", Active: true, UnitIDs: all[:2]},
	} {
		site, err := s.Sites.Create(ctx, admin, in)
		if err != nil {
			return fmt.Errorf("site %s: %w", in.Name, err)
		}
		siteIDs = append(siteIDs, site.ID)
	}

	for i, name := range []string{"recepcion.central", "recepcion.laplata"} {
		if _, err := s.Users.Create(ctx, repository.NewUser{
			Username:  name,
			FirstName: "Recepción",
			LastName:  fmt.Sprint(i + 1),
			Password:  opts.OperatorPassword,
			SiteID:    &siteIDs[i],
		}, s.Cost); err != nil {
			return fmt.Errorf("operator %s: %w", name, err)
		}
	}

	for _, v := range visitors {
		res, err := s.Visits.CheckIn(ctx, admin, service.CheckInInput{
			DNI:                 v.dni,
			FirstName:           v.first,
			LastName:            v.last,
			Badge:               v.badge,
			SiteID:              siteIDs[v.site],
			OrgUnitID:           unitIDs[v.unit],
			ReceptionistName:    "Laura",
			ReceptionistSurname: "Díaz",
		})
		if err != nil {
			return fmt.Errorf("visit of %d: %w", v.dni, err)
		}
		if v.leave {
			if _, err := s.Visits.CheckOut(ctx, admin, res.Visit.ID); err != nil {
				return fmt.Errorf("checkout of %d: %w", v.dni, err)
			}
		}
	}
	s.Log.Info("seed complete", zap.Int("sites", len(siteIDs)), zap.Int("org_units", len(unitIDs)),
		zap.Int("visits", len(visitors)))
	return nil
}
