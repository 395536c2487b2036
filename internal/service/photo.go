package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/blob"
	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// Photo is a decoded image upload.
type Photo struct {
	Data        []byte
	ContentType string
}

// PhotoFromString decodes a data URL or raw base64 payload.
func PhotoFromString(s string) (*Photo, error) {
	data, ct, err := utils.DecodePhoto(s)
	if err != nil {
		return nil, invalid("photo", err.Error())
	}
	return &Photo{Data: data, ContentType: ct}, nil
}

// PhotoFromBytes validates a multipart upload.
func PhotoFromBytes(data []byte, declared string) (*Photo, error) {
	data, ct, err := utils.CheckPhoto(data, declared)
	if err != nil {
		return nil, invalid("photo", err.Error())
	}
	return &Photo{Data: data, ContentType: ct}, nil
}

// PhotoService keeps person photos in the blob store and the key on the
// person row.
type PhotoService struct {
	Store   blob.Store
	Persons *repository.PersonRepo
	Log     *zap.Logger
}

// NewPhotoService wires a PhotoService.
func NewPhotoService(store blob.Store, persons *repository.PersonRepo, log *zap.Logger) *PhotoService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PhotoService{Store: store, Persons: persons, Log: log}
}

// Save stores ph under a fresh key, points the person at it and removes
// the previous object.
func (s *PhotoService) Save(ctx context.Context, p *model.Person, ph *Photo) error {
	key := fmt.Sprintf("persons/%d/%s%s", p.DNI, uuid.NewString(), utils.PhotoExt(ph.ContentType))
	if _, err := s.Store.Put(ctx, key, ph.Data, ph.ContentType); err != nil {
		return fmt.Errorf("store photo: %w", err)
	}
	if err := s.Persons.SetPhotoKey(ctx, p.ID, key); err != nil {
		_, _ = s.Store.Delete(ctx, key)
		return fmt.Errorf("link photo: %w", err)
	}
	old := p.PhotoKey
	p.PhotoKey, p.HasPhoto = &key, true
	if old != nil && *old != key {
		if _, err := s.Store.Delete(ctx, *old); err != nil {
			s.Log.Warn("old photo not removed", zap.String("key", *old), zap.Error(err))
		}
	}
	return nil
}

// Load returns the photo bytes of a person.
func (s *PhotoService) Load(ctx context.Context, personID uint64) ([]byte, string, error) {
	p, err := s.Persons.GetByID(ctx, personID)
	if err != nil {
		return nil, "", mapRepoErr(err, "person")
	}
	if p.PhotoKey == nil {
		return nil, "", notFound("photo")
	}
	info, data, err := s.Store.Get(ctx, *p.PhotoKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", notFound("photo")
	}
	if err != nil {
		return nil, "", err
	}
	ct := info.ContentType
	if ct == "" {
		ct = blob.DefaultContentType
	}
	return data, ct, nil
}

// mapRepoErr lifts repository sentinels to domain errors, naming the
// entity in the message.
func mapRepoErr(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound(entity)
	case errors.Is(err, repository.ErrForbidden):
		return ErrForbidden
	}
	return err
}
