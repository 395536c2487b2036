package blob

import (
	"context"
	"database/sql"
	"errors"
)

// SQL keeps photos in the `photos` table of the main database.
type SQL struct {
	db *sql.DB
}

// NewSQL returns a store over db.
func NewSQL(db *sql.DB) *SQL { return &SQL{db: db} }

func (s *SQL) Driver() Driver { return DriverDB }

func (s *SQL) Put(ctx context.Context, key string, data []byte, contentType string) (Info, error) {
	ct := contentTypeOr(contentType)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (object_key, content_type, data) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE content_type = VALUES(content_type), data = VALUES(data)`,
		key, ct, data)
	if err != nil {
		return Info{}, err
	}
	return s.Head(ctx, key)
}

func (s *SQL) Get(ctx context.Context, key string) (Info, []byte, error) {
	var (
		info Info
		data []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT object_key, content_type, LENGTH(data), updated_at, data FROM photos WHERE object_key = ?", key).
		Scan(&info.Key, &info.ContentType, &info.Size, &info.LastModified, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, nil, ErrNotFound
	}
	if err != nil {
		return Info{}, nil, err
	}
	return info, data, nil
}

func (s *SQL) Head(ctx context.Context, key string) (Info, error) {
	var info Info
	err := s.db.QueryRowContext(ctx,
		"SELECT object_key, content_type, LENGTH(data), updated_at FROM photos WHERE object_key = ?", key).
		Scan(&info.Key, &info.ContentType, &info.Size, &info.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, ErrNotFound
	}
	return info, err
}

func (s *SQL) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM photos WHERE object_key = ?", key)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
