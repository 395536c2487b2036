package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// ErrBrokenHierarchy reports a parent chain that is dangling, cyclic or
// deeper than institution, area, sub-area.
var ErrBrokenHierarchy = errors.New("broken org unit hierarchy")

var errTooDeep = fmt.Errorf("%w: nested below a sub-area", ErrBrokenHierarchy)

// chainDepth walks u's parent chain and returns its depth, 0 for an
// institution.
func chainDepth(byCode map[string]*model.OrgUnit, u *model.OrgUnit) (int, error) {
	depth := 0
	seen := map[string]bool{u.Code: true}
	for cur := u; cur.HasParent(); depth++ {
		parent, ok := byCode[cur.Parent()]
		if !ok {
			return 0, fmt.Errorf("%w: %s points at unknown parent %s", ErrBrokenHierarchy, cur.Code, cur.Parent())
		}
		if seen[parent.Code] {
			return 0, fmt.Errorf("%w: cycle through %s", ErrBrokenHierarchy, parent.Code)
		}
		if depth >= 2 {
			return 0, fmt.Errorf("%w: %s", errTooDeep, u.Code)
		}
		seen[parent.Code] = true
		cur = parent
	}
	return depth, nil
}

func kindAt(depth int) model.OrgUnitKind {
	switch depth {
	case 0:
		return model.KindInstitution
	case 1:
		return model.KindArea
	default:
		return model.KindSubArea
	}
}

func indexByCode(units []*model.OrgUnit) map[string]*model.OrgUnit {
	byCode := make(map[string]*model.OrgUnit, len(units))
	for _, u := range units {
		byCode[u.Code] = u
	}
	return byCode
}

// DeriveKinds computes the kind of every unit from its parent chain,
// keyed by code.  Any unit whose chain is broken fails the whole call.
func DeriveKinds(units []*model.OrgUnit) (map[string]model.OrgUnitKind, error) {
	byCode := indexByCode(units)
	kinds := make(map[string]model.OrgUnitKind, len(units))
	for _, u := range units {
		depth, err := chainDepth(byCode, u)
		if err != nil {
			return nil, err
		}
		kinds[u.Code] = kindAt(depth)
	}
	return kinds, nil
}

// OrgUnitService maintains the org unit hierarchy.
type OrgUnitService struct {
	Units *repository.OrgUnitRepo
	Log   *zap.Logger
}

// NewOrgUnitService wires an OrgUnitService.
func NewOrgUnitService(units *repository.OrgUnitRepo, log *zap.Logger) *OrgUnitService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrgUnitService{Units: units, Log: log}
}

// OrgUnitInput is the create/update form.
type OrgUnitInput struct {
	Name       string
	Code       string
	ParentCode string
	Active     bool
}

// withKinds fills Kind on every unit of a full listing.  Units whose
// stored chain is broken keep a blank kind.
func withKinds(units []*model.OrgUnit) []*model.OrgUnit {
	byCode := indexByCode(units)
	for _, u := range units {
		if depth, err := chainDepth(byCode, u); err == nil {
			u.Kind = kindAt(depth)
		}
	}
	return units
}

// List returns every unit ordered by code with derived kinds.
func (s *OrgUnitService) List(ctx context.Context) ([]*model.OrgUnit, error) {
	units, err := s.Units.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return withKinds(units), nil
}

func (s *OrgUnitService) filter(ctx context.Context, keep func(*model.OrgUnit) bool) ([]*model.OrgUnit, error) {
	units, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []*model.OrgUnit{}
	for _, u := range units {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Areas returns the children of institutions.
func (s *OrgUnitService) Areas(ctx context.Context) ([]*model.OrgUnit, error) {
	return s.filter(ctx, func(u *model.OrgUnit) bool { return u.Kind == model.KindArea })
}

// SubAreas returns the sub-areas under areaCode.
func (s *OrgUnitService) SubAreas(ctx context.Context, areaCode string) ([]*model.OrgUnit, error) {
	areaCode = strings.TrimSpace(areaCode)
	return s.filter(ctx, func(u *model.OrgUnit) bool {
		return u.Kind == model.KindSubArea && u.Parent() == areaCode
	})
}

// Children returns the direct children of code.
func (s *OrgUnitService) Children(ctx context.Context, code string) ([]*model.OrgUnit, error) {
	code = strings.TrimSpace(code)
	return s.filter(ctx, func(u *model.OrgUnit) bool { return u.Parent() == code })
}

// ForSite returns the units associated with a site in the actor's scope.
func (s *OrgUnitService) ForSite(ctx context.Context, actor Actor, siteID uint64) ([]*model.OrgUnit, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	siteID = scope.Pin(siteID)
	if siteID == 0 {
		return nil, invalid("site_id", "required")
	}
	units, err := s.Units.ListBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	all, err := s.Units.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byCode := indexByCode(withKinds(all))
	for _, u := range units {
		if full, ok := byCode[u.Code]; ok {
			u.Kind = full.Kind
		}
	}
	if units == nil {
		units = []*model.OrgUnit{}
	}
	return units, nil
}

func (in *OrgUnitInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	in.ParentCode = strings.TrimSpace(in.ParentCode)
}

// checkHierarchy validates candidate (already placed in units) against
// the rest of the tree.  Only the candidate and the units below it can
// change shape, so only their chains are walked.
func checkHierarchy(units []*model.OrgUnit, candidate *model.OrgUnit) error {
	fe := fieldErrors{}
	for _, u := range units {
		if u != candidate && u.Code == candidate.Code {
			fe.add("code", "already in use")
		}
	}
	byCode := indexByCode(units)
	if candidate.HasParent() {
		switch parent, ok := byCode[candidate.Parent()]; {
		case candidate.Parent() == candidate.Code:
			fe.add("parent_code", "a unit cannot be its own parent")
		case !ok:
			fe.add("parent_code", "unknown parent code")
		case parent == candidate:
			fe.add("parent_code", "a unit cannot be its own parent")
		}
	}
	if len(fe) > 0 {
		return fe.err()
	}

	depth, err := chainDepth(byCode, candidate)
	if errors.Is(err, errTooDeep) {
		return invalid("parent_code", "a sub-area cannot be a parent")
	}
	if err != nil {
		return invalid("parent_code", strings.TrimPrefix(err.Error(), ErrBrokenHierarchy.Error()+": "))
	}
	for _, u := range units {
		if u == candidate {
			continue
		}
		if d := distanceTo(byCode, u, candidate, len(units)); d > 0 && depth+d > 2 {
			return invalid("parent_code", "its children would sit below a sub-area")
		}
	}
	return nil
}

// distanceTo counts parent steps from u up to target, or -1 when the
// chain never reaches it within limit steps.
func distanceTo(byCode map[string]*model.OrgUnit, u, target *model.OrgUnit, limit int) int {
	cur := u
	for steps := 1; steps <= limit && cur.HasParent(); steps++ {
		parent, ok := byCode[cur.Parent()]
		if !ok {
			return -1
		}
		if parent == target {
			return steps
		}
		cur = parent
	}
	return -1
}

func validateInput(in OrgUnitInput) fieldErrors {
	fe := fieldErrors{}
	fe.required("name", in.Name)
	fe.required("code", in.Code)
	return fe
}

// Create inserts a unit after validating its place in the hierarchy.
func (s *OrgUnitService) Create(ctx context.Context, actor Actor, in OrgUnitInput) (*model.OrgUnit, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	in.normalize()
	if err := validateInput(in).err(); err != nil {
		return nil, err
	}

	tx, err := s.Units.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	units, err := s.Units.ListAllTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	u := &model.OrgUnit{Name: in.Name, Code: in.Code, Active: in.Active}
	if in.ParentCode != "" {
		p := in.ParentCode
		u.ParentCode = &p
	}
	if err := checkHierarchy(append(units, u), u); err != nil {
		return nil, err
	}
	if err := s.Units.InsertTx(ctx, tx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("code", "already in use")
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	if depth, err := chainDepth(indexByCode(append(units, u)), u); err == nil {
		u.Kind = kindAt(depth)
	}
	s.Log.Info("org unit created", zap.String("code", u.Code), zap.Uint64("user_id", actor.UserID))
	return u, nil
}

// Update edits a unit.  A code change is cascaded to every child's
// parent code in the same transaction; a name change keeps the old name
// as previous name.
func (s *OrgUnitService) Update(ctx context.Context, actor Actor, id uint64, in OrgUnitInput) (*model.OrgUnit, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	in.normalize()
	if err := validateInput(in).err(); err != nil {
		return nil, err
	}

	tx, err := s.Units.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err := s.Units.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, mapRepoErr(err, "org unit")
	}
	units, err := s.Units.ListAllTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	oldCode, oldName := current.Code, current.Name

	// Build the post-update tree: this unit replaced, its children
	// following the new code.
	next := &model.OrgUnit{ID: current.ID, Name: in.Name, Code: in.Code, Active: in.Active, PreviousName: current.PreviousName}
	if in.ParentCode != "" {
		p := in.ParentCode
		next.ParentCode = &p
	}
	tree := make([]*model.OrgUnit, 0, len(units))
	for _, u := range units {
		switch {
		case u.ID == id:
			tree = append(tree, next)
		case u.Parent() == oldCode && oldCode != in.Code:
			c := *u
			code := in.Code
			c.ParentCode = &code
			tree = append(tree, &c)
		default:
			tree = append(tree, u)
		}
	}
	if err := checkHierarchy(tree, next); err != nil {
		return nil, err
	}
	if oldName != in.Name {
		prev := oldName
		next.PreviousName = &prev
	}
	if err := s.Units.UpdateTx(ctx, tx, next); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("code", "already in use")
		}
		return nil, err
	}
	var moved int64
	if oldCode != in.Code {
		if moved, err = s.Units.ReparentChildrenTx(ctx, tx, oldCode, in.Code); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	if depth, err := chainDepth(indexByCode(tree), next); err == nil {
		next.Kind = kindAt(depth)
	}
	s.Log.Info("org unit updated", zap.String("code", next.Code), zap.String("old_code", oldCode),
		zap.Int64("children_moved", moved), zap.Uint64("user_id", actor.UserID))
	return next, nil
}

// Delete removes a unit that no child or visit references.
func (s *OrgUnitService) Delete(ctx context.Context, actor Actor, id uint64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	tx, err := s.Units.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	u, err := s.Units.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return mapRepoErr(err, "org unit")
	}
	children, err := s.Units.CountChildrenTx(ctx, tx, u.Code)
	if err != nil {
		return err
	}
	visits, err := s.Units.CountVisitsTx(ctx, tx, u.ID)
	if err != nil {
		return err
	}
	if children+visits > 0 {
		return &DependentsError{Entity: "org unit", Count: children + visits}
	}
	if err := s.Units.DeleteTx(ctx, tx, u.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	s.Log.Info("org unit deleted", zap.String("code", u.Code), zap.Uint64("user_id", actor.UserID))
	return nil
}
