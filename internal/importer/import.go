package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/service"
)

// Summary counts the outcome of one import run.
type Summary struct {
	Created  int
	Updated  int
	Skipped  int
	NotFound []int64
	Errors   []string
}

func (s Summary) String() string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d not_found=%d errors=%d",
		s.Created, s.Updated, s.Skipped, len(s.NotFound), len(s.Errors))
}

// Importer writes parsed records through the repositories and the photo
// service.
type Importer struct {
	Persons *repository.PersonRepo
	Users   *repository.UserRepo
	Photos  *service.PhotoService
	Cost    int
	Log     *zap.Logger
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func (im *Importer) log() *zap.Logger {
	if im.Log == nil {
		return zap.NewNop()
	}
	return im.Log
}

// ImportPersons upserts every record by DNI.  An embedded photo replaces the
// stored one; a photo that fails to decode is reported, the person is
// kept.
func (im *Importer) ImportPersons(ctx context.Context, recs []PersonRecord) (Summary, error) {
	var sum Summary
	for _, r := range recs {
		p := &model.Person{
			DNI:         r.DNI,
			FirstName:   strings.TrimSpace(r.FirstName),
			LastName:    strings.TrimSpace(r.LastName),
			Phone:       optional(r.Phone),
			Email:       optional(r.Email),
			BadgeNumber: strings.TrimSpace(r.Badge),
			Notes:       optional(r.Notes),
		}
		id, created, err := im.Persons.Upsert(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Errors = append(sum.Errors, fmt.Sprintf("dni %d: %v", r.DNI, err))
			continue
		}
		if created {
			sum.Created++
		} else {
			sum.Updated++
		}
		if r.Photo == "" {
			continue
		}
		if err := im.savePhoto(ctx, id, r.Photo); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("dni %d photo: %v", r.DNI, err))
		}
	}
	im.log().Info("persons imported", zap.Stringer("summary", sum))
	return sum, nil
}

func (im *Importer) savePhoto(ctx context.Context, personID uint64, data string) error {
	if im.Photos == nil {
		return errors.New("no photo store")
	}
	ph, err := service.PhotoFromString(data)
	if err != nil {
		return err
	}
	p, err := im.Persons.GetByID(ctx, personID)
	if err != nil {
		return err
	}
	return im.Photos.Save(ctx, p, ph)
}

// ImportPhotos attaches each photo to the person with that DNI.  Unknown DNIs
// are listed in NotFound.
func (im *Importer) ImportPhotos(ctx context.Context, recs []PhotoRecord) (Summary, error) {
	var sum Summary
	for _, r := range recs {
		p, err := im.Persons.GetByDNI(ctx, r.DNI)
		if errors.Is(err, repository.ErrNotFound) {
			sum.NotFound = append(sum.NotFound, r.DNI)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %v", r.Line, err))
			continue
		}
		ph, err := service.PhotoFromString(r.Data)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %v", r.Line, err))
			continue
		}
		if err := im.Photos.Save(ctx, p, ph); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %v", r.Line, err))
			continue
		}
		sum.Updated++
	}
	im.log().Info("photos imported", zap.Stringer("summary", sum))
	return sum, nil
}

// ImportUsers creates an account with password for every record whose username
// is free.  Profiles are created without a site.
func (im *Importer) ImportUsers(ctx context.Context, recs []UserRecord, password string) (Summary, error) {
	var sum Summary
	if len(password) < service.MinPasswordLen {
		return sum, fmt.Errorf("default password must have at least %d characters", service.MinPasswordLen)
	}
	for _, r := range recs {
		_, err := im.Users.Create(ctx, repository.NewUser{
			Username:  r.Username,
			Email:     r.Email,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Password:  password,
		}, im.Cost)
		switch {
		case err == nil:
			sum.Created++
		case errors.Is(err, repository.ErrUsernameExists):
			sum.Skipped++
		case ctx.Err() != nil:
			return sum, ctx.Err()
		default:
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", r.Username, err))
		}
	}
	im.log().Info("users imported", zap.Stringer("summary", sum))
	return sum, nil
}
