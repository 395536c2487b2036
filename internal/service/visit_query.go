package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// Default page sizes per listing.
const (
	HistoryPageSize = 50
	ReportPageSize  = 20
	PersonPageSize  = 20
	RecentVisits    = 10
	ExportLimit     = 50000
)

// QueryService serves scope-filtered read views over visits and persons.
type QueryService struct {
	Visits  *repository.VisitRepo
	Persons *repository.PersonRepo
	Now     func() time.Time
	// ExportCap bounds Export; a larger result is rejected, not cut.
	ExportCap int
}

// NewQueryService wires a QueryService.
func NewQueryService(visits *repository.VisitRepo, persons *repository.PersonRepo) *QueryService {
	return &QueryService{Visits: visits, Persons: persons, Now: time.Now, ExportCap: ExportLimit}
}

// Page is one page of visit rows.
type Page struct {
	Items    []repository.VisitRow `json:"items"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

func (q *QueryService) scoped(actor Actor, f *repository.VisitFilter) error {
	scope, err := ResolveScope(actor)
	if err != nil {
		return err
	}
	f.SiteID = scope.Pin(f.SiteID)
	return nil
}

func (q *QueryService) page(ctx context.Context, f repository.VisitFilter, def int) (*Page, error) {
	rows, total, err := q.Visits.Search(ctx, f, def)
	if err != nil {
		return nil, err
	}
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = def
	}
	if size > 200 {
		size = 200
	}
	return &Page{Items: rows, Total: total, Page: page, PageSize: size}, nil
}

// Active lists open visits in scope.
func (q *QueryService) Active(ctx context.Context, actor Actor, f repository.VisitFilter) (*Page, error) {
	if err := q.scoped(actor, &f); err != nil {
		return nil, err
	}
	f.Status = repository.StatusOpen
	return q.page(ctx, f, HistoryPageSize)
}

// History lists every visit in scope, open and closed.
func (q *QueryService) History(ctx context.Context, actor Actor, f repository.VisitFilter) (*Page, error) {
	if err := q.scoped(actor, &f); err != nil {
		return nil, err
	}
	return q.page(ctx, f, HistoryPageSize)
}

// Report is the admin report listing.
func (q *QueryService) Report(ctx context.Context, actor Actor, f repository.VisitFilter) (*Page, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return q.page(ctx, f, ReportPageSize)
}

// Export returns the whole filtered report set for file export.  A set
// larger than ExportCap is a ValidationError asking for narrower filters.
func (q *QueryService) Export(ctx context.Context, actor Actor, f repository.VisitFilter) ([]repository.VisitRow, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	limit := q.ExportCap
	if limit <= 0 {
		limit = ExportLimit
	}
	rows, err := q.Visits.SearchAll(ctx, f, limit+1)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		return nil, invalid("filters", fmt.Sprintf("more than %d visits match; narrow the filters", limit))
	}
	return rows, nil
}

// Detail returns one visit if it is in scope.
func (q *QueryService) Detail(ctx context.Context, actor Actor, id uint64) (*repository.VisitRow, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	d, err := q.Visits.Detail(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "visit")
	}
	if !scope.Allows(d.SiteID) {
		return nil, ErrForbidden
	}
	return d, nil
}

// Creators lists the users who registered visits in scope, for filter
// dropdowns.
func (q *QueryService) Creators(ctx context.Context, actor Actor, openOnly bool) ([]repository.UserRef, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	return q.Visits.Creators(ctx, scope.Pin(0), openOnly)
}

// Home is the dashboard payload.
type Home struct {
	repository.HomeStats
	People int64                 `json:"people"`
	Recent []repository.VisitRow `json:"recent"`
}

// Home computes dashboard counters in scope.
func (q *QueryService) Home(ctx context.Context, actor Actor) (*Home, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	site := scope.Pin(0)
	stats, err := q.Visits.Stats(ctx, site, q.Now())
	if err != nil {
		return nil, err
	}
	people, err := q.Persons.Count(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := q.Visits.SearchAll(ctx, repository.VisitFilter{SiteID: site, Status: repository.StatusClosed}, RecentVisits)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []repository.VisitRow{}
	}
	return &Home{HomeStats: stats, People: people, Recent: recent}, nil
}

// PersonLookup is the DNI search answer used to prefill check-in.
type PersonLookup struct {
	Person      *model.Person        `json:"person"`
	ActiveVisit *repository.VisitRow `json:"active_visit"`
}

// SearchPerson finds a person by DNI and their open visit in scope.
func (q *QueryService) SearchPerson(ctx context.Context, actor Actor, dni int64) (*PersonLookup, error) {
	scope, err := ResolveScope(actor)
	if err != nil {
		return nil, err
	}
	if dni <= 0 {
		return nil, invalid("dni", "must be a positive number")
	}
	p, err := q.Persons.GetByDNI(ctx, dni)
	if err != nil {
		return nil, mapRepoErr(err, "person")
	}
	out := &PersonLookup{Person: p}
	v, err := q.Visits.OpenForPerson(ctx, p.ID, scope.Pin(0))
	switch {
	case err == nil:
		out.ActiveVisit = v
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return out, nil
}
