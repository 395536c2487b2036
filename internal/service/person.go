package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
)

// PersonService serves the admin person registry.
type PersonService struct {
	Persons *repository.PersonRepo
	Photos  *PhotoService
	Log     *zap.Logger
}

// NewPersonService wires a PersonService.
func NewPersonService(persons *repository.PersonRepo, photos *PhotoService, log *zap.Logger) *PersonService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PersonService{Persons: persons, Photos: photos, Log: log}
}

// PersonPage is one page of the registry.
type PersonPage struct {
	Items    []*model.Person `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// List pages persons ordered by last name, first name.
func (s *PersonService) List(ctx context.Context, actor Actor, q repository.PersonQuery) (*PersonPage, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = PersonPageSize
	}
	items, total, err := s.Persons.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &PersonPage{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// Get returns one person.
func (s *PersonService) Get(ctx context.Context, actor Actor, id uint64) (*model.Person, error) {
	if _, err := ResolveScope(actor); err != nil {
		return nil, err
	}
	p, err := s.Persons.GetByID(ctx, id)
	return p, mapRepoErr(err, "person")
}

// PersonInput is the admin edit form.
type PersonInput struct {
	DNI       int64
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Badge     string
	Notes     string
	Photo     *Photo
}

// PersonResult carries the saved person and whether a supplied photo
// was stored.
type PersonResult struct {
	Person     *model.Person `json:"person"`
	PhotoSaved bool          `json:"photo_saved"`
}

// Update edits a person and optionally replaces the photo.
func (s *PersonService) Update(ctx context.Context, actor Actor, id uint64, in PersonInput) (*PersonResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	for _, f := range []*string{&in.FirstName, &in.LastName, &in.Phone, &in.Email, &in.Badge, &in.Notes} {
		*f = strings.TrimSpace(*f)
	}
	fe := fieldErrors{}
	fe.required("first_name", in.FirstName)
	fe.required("last_name", in.LastName)
	if in.DNI <= 0 {
		fe.add("dni", "must be a positive number")
	}
	if utf8.RuneCountInString(in.Badge) > MaxBadgeLen {
		fe.add("badge_number", "at most 10 characters")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			fe.add("email", "invalid address")
		}
	}
	if err := fe.err(); err != nil {
		return nil, err
	}

	p, err := s.update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	res := &PersonResult{Person: p}
	if in.Photo != nil && s.Photos != nil {
		if err := s.Photos.Save(ctx, p, in.Photo); err != nil {
			s.Log.Error("photo not saved", zap.Uint64("person_id", p.ID), zap.Error(err))
		} else {
			res.PhotoSaved = true
		}
	}
	return res, nil
}

func (s *PersonService) update(ctx context.Context, id uint64, in PersonInput) (*model.Person, error) {
	tx, err := s.Persons.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	p, err := s.Persons.GetByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, mapRepoErr(err, "person")
	}
	p.DNI, p.FirstName, p.LastName, p.BadgeNumber = in.DNI, in.FirstName, in.LastName, in.Badge
	p.Phone, p.Email, p.Notes = optional(in.Phone), optional(in.Email), optional(in.Notes)
	if err := s.Persons.UpdateTx(ctx, tx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("dni", "belongs to another person")
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return p, nil
}
