package service

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/queue"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// EventPublisher delivers visit events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.VisitEvent) error
}

// MetricsRecorder observes core operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, d time.Duration)
	Conflict(reason string)
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (nopMetrics) Conflict(string)                                      {}

// MaxBadgeLen is the longest accepted badge number.
const MaxBadgeLen = 10

// VisitService runs check-in, check-out, badge checks and admin
// corrections.  Every check-in at a site serializes on that site's row
// lock, so the badge lookup and the insert see a stable view.
type VisitService struct {
	Sites   *repository.SiteRepo
	Units   *repository.OrgUnitRepo
	Persons *repository.PersonRepo
	Visits  *repository.VisitRepo
	Photos  *PhotoService
	Events  EventPublisher
	Metrics MetricsRecorder
	Log     *zap.Logger
	Now     func() time.Time
}

// NewVisitService wires the engine.  photos, events and metrics may be nil.
func NewVisitService(sites *repository.SiteRepo, units *repository.OrgUnitRepo, persons *repository.PersonRepo,
	visits *repository.VisitRepo, photos *PhotoService, events EventPublisher, m MetricsRecorder, log *zap.Logger) *VisitService {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &VisitService{Sites: sites, Units: units, Persons: persons, Visits: visits,
		Photos: photos, Events: events, Metrics: m, Log: log, Now: time.Now}
}

// now returns the current local wall clock at microsecond precision.
func (s *VisitService) now() time.Time {
	return s.Now().In(s.Visits.Location()).Truncate(time.Microsecond)
}

// CheckInInput is the check-in form.  PersonID selects an existing
// person explicitly; otherwise the person is matched by DNI.
type CheckInInput struct {
	PersonID            uint64
	DNI                 int64
	FirstName           string
	LastName            string
	Phone               string
	Email               string
	Badge               string
	PersonNotes         string
	SiteID              uint64
	OrgUnitID           uint64
	ReceptionistName    string
	ReceptionistSurname string
	Notes               string
	Photo               *Photo
}

// CheckInResult is the created visit plus the person it belongs to.
type CheckInResult struct {
	Visit      *model.Visit  `json:"visit"`
	Person     *model.Person `json:"person"`
	PhotoSaved bool          `json:"photo_saved"`
}

func (in *CheckInInput) normalize() {
	for _, f := range []*string{&in.FirstName, &in.LastName, &in.Phone, &in.Email, &in.Badge,
		&in.PersonNotes, &in.ReceptionistName, &in.ReceptionistSurname, &in.Notes} {
		*f = strings.TrimSpace(*f)
	}
}

func (in *CheckInInput) validate() fieldErrors {
	fe := fieldErrors{}
	fe.required("first_name", in.FirstName)
	fe.required("last_name", in.LastName)
	if in.DNI <= 0 {
		fe.add("dni", "must be a positive number")
	}
	fe.required("badge_number", in.Badge)
	if utf8.RuneCountInString(in.Badge) > MaxBadgeLen {
		fe.add("badge_number", "at most 10 characters")
	}
	if in.SiteID == 0 {
		fe.add("site_id", "required")
	}
	if in.OrgUnitID == 0 {
		fe.add("org_unit_id", "required")
	}
	fe.required("receptionist_name", in.ReceptionistName)
	fe.required("receptionist_surname", in.ReceptionistSurname)
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			fe.add("email", "invalid address")
		}
	}
	return fe
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// applyTo refreshes the mutable person fields from the form.  Blank
// optional fields keep stored values.
func (in *CheckInInput) applyTo(p *model.Person) {
	p.DNI = in.DNI
	p.FirstName = in.FirstName
	p.LastName = in.LastName
	p.BadgeNumber = in.Badge
	if in.Phone != "" {
		p.Phone = optional(in.Phone)
	}
	if in.Email != "" {
		p.Email = optional(in.Email)
	}
	if in.PersonNotes != "" {
		p.Notes = optional(in.PersonNotes)
	}
}

// CheckIn opens a visit.  The site is pinned to the actor's scope; a
// badge already held by an open visit at that site yields
// *BadgeInUseError.
func (s *VisitService) CheckIn(ctx context.Context, actor Actor, in CheckInInput) (res *CheckInResult, err error) {
	start := time.Now()
	defer func() { s.Metrics.Observe(ctx, "check_in", err == nil, time.Since(start)) }()

	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	in.normalize()
	in.SiteID = scope.Pin(in.SiteID)

	fe := in.validate()
	if len(fe) == 0 {
		if err := s.checkTargets(ctx, in, fe); err != nil {
			return nil, err
		}
	}
	if in.PersonID == 0 && in.DNI > 0 && in.Photo == nil {
		if _, err := s.Persons.GetByDNI(ctx, in.DNI); errors.Is(err, repository.ErrNotFound) {
			fe.add("photo", "required for new visitors")
		} else if err != nil {
			return nil, err
		}
	}
	if err := fe.err(); err != nil {
		return nil, err
	}

	tx, err := s.Visits.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	site, err := s.Sites.LockTx(ctx, tx, in.SiteID)
	if err != nil {
		return nil, mapRepoErr(err, "site")
	}
	holder, err := s.Visits.FindOpenByBadgeTx(ctx, tx, in.SiteID, in.Badge)
	switch {
	case err == nil:
		s.Metrics.Conflict("badge_in_use")
		return nil, badgeInUse(holder)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	person, err := s.upsertPersonTx(ctx, tx, &in)
	if err != nil {
		return nil, err
	}

	v := &model.Visit{
		PersonID:            person.ID,
		SiteID:              in.SiteID,
		OrgUnitID:           in.OrgUnitID,
		BadgeNumber:         in.Badge,
		EntryAt:             s.now(),
		ReceptionistName:    in.ReceptionistName,
		ReceptionistSurname: in.ReceptionistSurname,
		Notes:               optional(in.Notes),
	}
	if actor.UserID != 0 {
		uid := actor.UserID
		v.CreatedBy = &uid
	}
	if err := s.Visits.CreateTx(ctx, tx, v); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			_ = tx.Rollback() // release the site lock before re-reading
			s.Metrics.Conflict("badge_in_use")
			return nil, s.holderConflict(ctx, in.SiteID, in.Badge)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	res = &CheckInResult{Visit: v, Person: person}
	if in.Photo != nil && s.Photos != nil {
		if err := s.Photos.Save(ctx, person, in.Photo); err != nil {
			s.Log.Error("photo not saved", zap.Uint64("person_id", person.ID), zap.Error(err))
		} else {
			res.PhotoSaved = true
		}
	}
	s.Log.Info("visit checked in",
		zap.Uint64("visit_id", v.ID), zap.Uint64("site_id", v.SiteID),
		zap.String("badge", v.BadgeNumber), zap.Uint64("user_id", actor.UserID))
	s.publish(ctx, queue.EventCheckedIn, v, person, site.Name, actor)
	return res, nil
}

// checkTargets verifies site and org unit exist and are active, and that
// the unit is one of the site's units.  A site with no associated units
// accepts any active unit.
func (s *VisitService) checkTargets(ctx context.Context, in CheckInInput, fe fieldErrors) error {
	site, err := s.Sites.GetByID(ctx, in.SiteID)
	if err != nil {
		return mapRepoErr(err, "site")
	}
	if !site.Active {
		fe.add("site_id", "site is inactive")
	}
	unit, err := s.Units.GetByID(ctx, in.OrgUnitID)
	if err != nil {
		return mapRepoErr(err, "org unit")
	}
	if !unit.Active {
		fe.add("org_unit_id", "org unit is inactive")
	}
	ok, err := s.unitOfSite(ctx, site.ID, unit.ID)
	if err != nil {
		return err
	}
	if !ok {
		fe.add("org_unit_id", "org unit does not belong to the site")
	}
	return nil
}

func (s *VisitService) unitOfSite(ctx context.Context, siteID, unitID uint64) (bool, error) {
	ids, err := s.Sites.UnitIDs(ctx, siteID)
	if err != nil {
		return false, err
	}
	return len(ids) == 0 || slices.Contains(ids, unitID), nil
}

func (s *VisitService) upsertPersonTx(ctx context.Context, tx *sql.Tx, in *CheckInInput) (*model.Person, error) {
	var (
		p   *model.Person
		err error
	)
	if in.PersonID != 0 {
		p, err = s.Persons.GetByIDForUpdateTx(ctx, tx, in.PersonID)
		if err != nil {
			return nil, mapRepoErr(err, "person")
		}
	} else {
		p, err = s.Persons.GetByDNIForUpdateTx(ctx, tx, in.DNI)
		if errors.Is(err, repository.ErrNotFound) {
			p = &model.Person{}
			in.applyTo(p)
			if err := s.Persons.CreateTx(ctx, tx, p); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return nil, invalid("dni", "registered concurrently, retry")
				}
				return nil, err
			}
			return p, nil
		}
		if err != nil {
			return nil, err
		}
	}
	in.applyTo(p)
	if err := s.Persons.UpdateTx(ctx, tx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("dni", "belongs to another person")
		}
		return nil, err
	}
	return p, nil
}

// holderConflict re-reads the open visit that won a duplicate-key race.
func (s *VisitService) holderConflict(ctx context.Context, siteID uint64, badge string) error {
	h, err := s.Visits.FindOpenByBadge(ctx, siteID, badge)
	if err != nil {
		return &BadgeInUseError{Badge: badge, SiteID: siteID}
	}
	return badgeInUse(h)
}

func badgeInUse(h *repository.BadgeHolder) *BadgeInUseError {
	return &BadgeInUseError{
		Badge:     h.Badge,
		VisitID:   h.VisitID,
		FirstName: h.FirstName,
		LastName:  h.LastName,
		SiteID:    h.SiteID,
		SiteName:  h.SiteName,
		EntryAt:   h.EntryAt,
	}
}

// CheckOut stamps the exit of an open visit.
func (s *VisitService) CheckOut(ctx context.Context, actor Actor, visitID uint64) (v *model.Visit, err error) {
	start := time.Now()
	defer func() { s.Metrics.Observe(ctx, "check_out", err == nil, time.Since(start)) }()

	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	tx, err := s.Visits.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	v, err = s.Visits.GetForUpdateTx(ctx, tx, visitID)
	if err != nil {
		return nil, mapRepoErr(err, "visit")
	}
	if !scope.Allows(v.SiteID) {
		return nil, ErrForbidden
	}
	if !v.IsOpen() {
		s.Metrics.Conflict("already_closed")
		return nil, ErrAlreadyClosed
	}
	exit := s.now()
	v.ExitAt = &exit
	if err := v.CheckTimes(); err != nil {
		return nil, invalid("exit_at", err.Error())
	}
	if err := s.Visits.CloseTx(ctx, tx, v.ID, exit); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyClosed
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	s.Log.Info("visit checked out", zap.Uint64("visit_id", v.ID), zap.Uint64("site_id", v.SiteID),
		zap.String("badge", v.BadgeNumber), zap.Uint64("user_id", actor.UserID))
	if s.Events != nil {
		var siteName string
		person, perr := s.Persons.GetByID(ctx, v.PersonID)
		if site, err := s.Sites.GetByID(ctx, v.SiteID); err == nil {
			siteName = site.Name
		}
		if perr != nil {
			person = &model.Person{ID: v.PersonID}
		}
		s.publish(ctx, queue.EventCheckedOut, v, person, siteName, actor)
	}
	return v, nil
}

func (s *VisitService) publish(ctx context.Context, typ string, v *model.Visit, p *model.Person, siteName string, actor Actor) {
	if s.Events == nil {
		return
	}
	at := v.EntryAt
	if typ == queue.EventCheckedOut && v.ExitAt != nil {
		at = *v.ExitAt
	}
	ev := queue.VisitEvent{
		Type:       typ,
		VisitID:    v.ID,
		PersonID:   p.ID,
		PersonName: p.FullName(),
		DNI:        p.DNI,
		Badge:      v.BadgeNumber,
		SiteID:     v.SiteID,
		SiteName:   siteName,
		OrgUnitID:  v.OrgUnitID,
		UserID:     actor.UserID,
		OccurredAt: at.Format(time.RFC3339),
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.Log.Warn("visit event not published", zap.String("event", typ), zap.Uint64("visit_id", v.ID), zap.Error(err))
	}
}

// BadgeStatus answers a badge availability check.
type BadgeStatus struct {
	Available bool   `json:"available"`
	VisitID   uint64 `json:"visit_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BadgeAvailability reports whether badge is free at the actor's site.
// Single-site actors are always checked against their own site.
func (s *VisitService) BadgeAvailability(ctx context.Context, actor Actor, siteID uint64, badge string) (BadgeStatus, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return BadgeStatus{}, err
	}
	siteID = scope.Pin(siteID)
	badge = strings.TrimSpace(badge)
	fe := fieldErrors{}
	fe.required("badge_number", badge)
	if siteID == 0 {
		fe.add("site_id", "required")
	}
	if err := fe.err(); err != nil {
		return BadgeStatus{}, err
	}
	h, err := s.Visits.FindOpenByBadge(ctx, siteID, badge)
	if errors.Is(err, repository.ErrNotFound) {
		return BadgeStatus{Available: true}, nil
	}
	if err != nil {
		return BadgeStatus{}, err
	}
	return BadgeStatus{VisitID: h.VisitID, Message: badgeInUse(h).Message()}, nil
}

// CorrectionInput lists the admin-editable visit fields; nil leaves a
// field unchanged.  ExitAt only moves the exit of a closed visit: open
// visits close through CheckOut and closed ones never reopen.
type CorrectionInput struct {
	OrgUnitID           *uint64
	ReceptionistName    *string
	ReceptionistSurname *string
	Notes               *string
	ExitAt              *time.Time
}

// Correct edits a visit on behalf of an administrator.
func (s *VisitService) Correct(ctx context.Context, actor Actor, visitID uint64, in CorrectionInput) (*model.Visit, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	current, err := s.Visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, mapRepoErr(err, "visit")
	}

	tx, err := s.Visits.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := s.Sites.LockTx(ctx, tx, current.SiteID); err != nil {
		return nil, mapRepoErr(err, "site")
	}
	v, err := s.Visits.GetForUpdateTx(ctx, tx, visitID)
	if err != nil {
		return nil, mapRepoErr(err, "visit")
	}

	fe := fieldErrors{}
	if in.OrgUnitID != nil && *in.OrgUnitID != v.OrgUnitID {
		if _, err := s.Units.GetByID(ctx, *in.OrgUnitID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				fe.add("org_unit_id", "unknown org unit")
			} else {
				return nil, err
			}
		} else if ok, err := s.unitOfSite(ctx, v.SiteID, *in.OrgUnitID); err != nil {
			return nil, err
		} else if !ok {
			fe.add("org_unit_id", "org unit does not belong to the site")
		}
		v.OrgUnitID = *in.OrgUnitID
	}
	if in.ReceptionistName != nil {
		v.ReceptionistName = strings.TrimSpace(*in.ReceptionistName)
		fe.required("receptionist_name", v.ReceptionistName)
	}
	if in.ReceptionistSurname != nil {
		v.ReceptionistSurname = strings.TrimSpace(*in.ReceptionistSurname)
		fe.required("receptionist_surname", v.ReceptionistSurname)
	}
	if in.Notes != nil {
		v.Notes = optional(strings.TrimSpace(*in.Notes))
	}
	if in.ExitAt != nil {
		if v.IsOpen() {
			fe.add("exit_at", "open visits are closed by check-out")
		} else {
			exit := in.ExitAt.In(s.Visits.Location()).Truncate(time.Microsecond)
			v.ExitAt = &exit
		}
	}
	if err := v.CheckTimes(); err != nil {
		fe.add("exit_at", err.Error())
	}
	if err := fe.err(); err != nil {
		return nil, err
	}

	if err := s.Visits.UpdateTx(ctx, tx, v); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	s.Log.Info("visit corrected", zap.Uint64("visit_id", v.ID), zap.Uint64("user_id", actor.UserID))
	return v, nil
}
