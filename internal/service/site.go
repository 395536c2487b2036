package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// SiteService manages sites ("sedes") and their org unit associations.
type SiteService struct {
	Sites *repository.SiteRepo
	Units *repository.OrgUnitRepo
	Log   *zap.Logger
}

// NewSiteService wires a SiteService.
func NewSiteService(sites *repository.SiteRepo, units *repository.OrgUnitRepo, log *zap.Logger) *SiteService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SiteService{Sites: sites, Units: units, Log: log}
}

// SiteInput is the create/update form.
type SiteInput struct {
	Name    string
	Address string
	Active  bool
	UnitIDs []uint64 // nil leaves associations unchanged on update
}

// List returns the sites the actor may see, ordered by name.
func (s *SiteService) List(ctx context.Context, actor Actor, activeOnly bool) ([]*model.Site, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	sites, err := s.Sites.List(ctx, activeOnly, scope.Pin(0))
	if err != nil {
		return nil, err
	}
	if sites == nil {
		sites = []*model.Site{}
	}
	return sites, nil
}

// Get returns one site if it is in scope.
func (s *SiteService) Get(ctx context.Context, actor Actor, id uint64) (*model.Site, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(id) {
		return nil, ErrForbidden
	}
	site, err := s.Sites.GetByID(ctx, id)
	return site, mapRepoErr(err, "site")
}

func (in *SiteInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	fe := fieldErrors{}
	fe.required("name", in.Name)
	return fe.err()
}

// checkUnits rejects unknown org unit ids before anything is written.
func (s *SiteService) checkUnits(ctx context.Context, ids []uint64) error {
	for _, id := range ids {
		if _, err := s.Units.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return invalid("unit_ids", "unknown org unit")
			}
			return err
		}
	}
	return nil
}

// save writes the site row and, when setUnits, its associations in one
// transaction.  A zero site.ID inserts.
func (s *SiteService) save(ctx context.Context, site *model.Site, unitIDs []uint64, setUnits bool) error {
	tx, err := s.Sites.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if site.ID == 0 {
		err = s.Sites.CreateTx(ctx, tx, site)
	} else if _, err = s.Sites.LockTx(ctx, tx, site.ID); err == nil {
		err = s.Sites.UpdateTx(ctx, tx, site)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return invalid("name", "already in use")
	}
	if err != nil {
		return mapRepoErr(err, "site")
	}
	if setUnits {
		if err := s.Sites.SetUnitsTx(ctx, tx, site.ID, unitIDs); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Create adds a site with its org units.
func (s *SiteService) Create(ctx context.Context, actor Actor, in SiteInput) (*model.Site, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkUnits(ctx, in.UnitIDs); err != nil {
		return nil, err
	}
	site := &model.Site{Name: in.Name, Address: optional(in.Address), Active: in.Active}
	if err := s.save(ctx, site, in.UnitIDs, len(in.UnitIDs) > 0); err != nil {
		return nil, err
	}
	s.Log.Info("site created", zap.Uint64("site_id", site.ID), zap.Uint64("user_id", actor.UserID))
	created, err := s.Sites.GetByID(ctx, site.ID)
	return created, mapRepoErr(err, "site")
}

// Update edits a site.  Nil UnitIDs keeps the associations.
func (s *SiteService) Update(ctx context.Context, actor Actor, id uint64, in SiteInput) (*model.Site, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkUnits(ctx, in.UnitIDs); err != nil {
		return nil, err
	}
	site := &model.Site{ID: id, Name: in.Name, Address: optional(in.Address), Active: in.Active}
	if err := s.save(ctx, site, in.UnitIDs, in.UnitIDs != nil); err != nil {
		return nil, err
	}
	updated, err := s.Sites.GetByID(ctx, id)
	return updated, mapRepoErr(err, "site")
}

// Delete removes a site with no associated org units or visits.
func (s *SiteService) Delete(ctx context.Context, actor Actor, id uint64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	n, err := s.Sites.Delete(ctx, id)
	if errors.Is(err, repository.ErrConflict) {
		return &DependentsError{Entity: "site", Count: n}
	}
	if err != nil {
		return mapRepoErr(err, "site")
	}
	s.Log.Info("site deleted", zap.Uint64("site_id", id), zap.Uint64("user_id", actor.UserID))
	return nil
}

// UnitIDs lists the org units associated with a site.
func (s *SiteService) UnitIDs(ctx context.Context, actor Actor, id uint64) ([]uint64, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(id) {
		return nil, ErrForbidden
	}
	ids, err := s.Sites.UnitIDs(ctx, id)
	if ids == nil {
		ids = []uint64{}
	}
	return ids, err
}
