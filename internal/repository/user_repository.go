package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// UserRepo persists operator accounts and their one-to-one profiles.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrUsernameExists = errors.New("username already exists")

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Username    string
	Email       string
	FirstName   string
	LastName    string
	Password    string
	IsSuperuser bool
	SiteID      *uint64
	IsAdmin     bool
}

// Create inserts the user and its profile in one transaction and returns
// the new id.
func (r *UserRepo) Create(ctx context.Context, nu NewUser, cost int) (uint64, error) {
	username := strings.ToLower(strings.TrimSpace(nu.Username))
	hash, err := utils.HashPassword(nu.Password, cost)
	if err != nil {
		return 0, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, password_hash, is_superuser)
		 VALUES (?,?,?,?,?,?)`,
		username, strings.TrimSpace(nu.Email), nu.FirstName, nu.LastName, hash, nu.IsSuperuser)
	if err != nil {
		if IsDuplicate(err) {
			return 0, ErrUsernameExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_profiles (user_id, site_id, is_admin) VALUES (?,?,?)",
		id, nu.SiteID, nu.IsAdmin); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return uint64(id), nil
}

const userColumns = "id,username,email,first_name,last_name,password_hash,is_superuser,is_active,created_at,updated_at"

func scanUser(s rowScanner) (*model.User, error) {
	var u model.User
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsSuperuser, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername fetches a user by normalized username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// List returns all users ordered by username.
func (r *UserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update saves names, email and flags.  The profile row is recreated if
// it went missing so every saved user keeps one.
func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET email=?, first_name=?, last_name=?, is_superuser=?, is_active=? WHERE id=?",
		u.Email, u.FirstName, u.LastName, u.IsSuperuser, u.IsActive, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id=?", u.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT IGNORE INTO user_profiles (user_id, is_admin) VALUES (?, 0)", u.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SetPassword replaces the bcrypt hash.
func (r *UserRepo) SetPassword(ctx context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile returns the user's profile or ErrNotFound.
func (r *UserRepo) GetProfile(ctx context.Context, userID uint64) (*model.UserProfile, error) {
	var (
		p    model.UserProfile
		site sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, site_id, is_admin, created_at, updated_at FROM user_profiles WHERE user_id=?",
		userID).Scan(&p.UserID, &site, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if site.Valid {
		id := uint64(site.Int64)
		p.SiteID = &id
	}
	return &p, nil
}

// SaveProfile creates or updates the profile of a user.
func (r *UserRepo) SaveProfile(ctx context.Context, p *model.UserProfile) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, site_id, is_admin) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE site_id = VALUES(site_id), is_admin = VALUES(is_admin)`,
		p.UserID, p.SiteID, p.IsAdmin)
	return err
}
