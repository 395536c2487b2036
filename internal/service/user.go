package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/visitor-access-control/internal/model"
	"github.com/iliyamo/visitor-access-control/internal/repository"
	"github.com/iliyamo/visitor-access-control/internal/utils"
)

// MinPasswordLen is the shortest password accepted on create or change.
const MinPasswordLen = 8

// UserService handles logins, actor loading and admin account management.
type UserService struct {
	Users      *repository.UserRepo
	Tokens     *repository.TokenRepo
	Sites      *repository.SiteRepo
	BcryptCost int
	Log        *zap.Logger
}

// NewUserService wires a UserService.
func NewUserService(users *repository.UserRepo, tokens *repository.TokenRepo, sites *repository.SiteRepo, cost int, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{Users: users, Tokens: tokens, Sites: sites, BcryptCost: cost, Log: log}
}

// Authenticate checks username and password.  Unknown, inactive and
// mismatched accounts all yield ErrInvalidLogin.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidLogin
	}
	u, err := s.Users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidLogin
	}
	if utils.NeedsRehash(u.PasswordHash, s.BcryptCost) {
		// cost changed since the hash was made; login still succeeds
		if err := s.Users.SetPassword(ctx, u.ID, password, s.BcryptCost); err != nil {
			s.Log.Warn("password rehash failed", zap.Uint64("user_id", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

// LoadActor builds the actor for an authenticated user id.  A missing
// profile leaves Profile nil.
func (s *UserService) LoadActor(ctx context.Context, userID uint64) (Actor, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return Actor{}, mapRepoErr(err, "user")
	}
	if !u.IsActive {
		return Actor{}, ErrForbidden
	}
	a := Actor{UserID: u.ID, Username: u.Username, IsSuperuser: u.IsSuperuser}
	p, err := s.Users.GetProfile(ctx, u.ID)
	switch {
	case err == nil:
		a.Profile = p
	case !errors.Is(err, repository.ErrNotFound):
		return Actor{}, err
	}
	return a, nil
}

// UserView is a user with its profile for admin listings and "me".
type UserView struct {
	*model.User
	Profile *model.UserProfile `json:"profile"`
}

// Me describes the calling actor.
func (s *UserService) Me(ctx context.Context, actor Actor) (*UserView, Scope, error) {
	u, err := s.Users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, Scope{}, mapRepoErr(err, "user")
	}
	// the scope error is reported inside the payload, not as a failure
	scope, _ := ResolveScope(actor)
	return &UserView{User: u, Profile: actor.Profile}, scope, nil
}

// List returns every user with profile.  Admin only.
func (s *UserService) List(ctx context.Context, actor Actor) ([]UserView, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := s.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		v := UserView{User: u}
		p, err := s.Users.GetProfile(ctx, u.ID)
		switch {
		case err == nil:
			v.Profile = p
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UserInput is the admin create form.
type UserInput struct {
	Username    string
	Email       string
	FirstName   string
	LastName    string
	Password    string
	IsSuperuser bool
	SiteID      *uint64
	IsAdmin     bool
}

func (s *UserService) checkSite(ctx context.Context, siteID *uint64, fe fieldErrors) error {
	if siteID == nil || *siteID == 0 {
		return nil
	}
	if _, err := s.Sites.GetByID(ctx, *siteID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fe.add("site_id", "unknown site")
			return nil
		}
		return err
	}
	return nil
}

// Create adds an account and its profile.  Admin only.
func (s *UserService) Create(ctx context.Context, actor Actor, in UserInput) (*UserView, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	fe := fieldErrors{}
	fe.required("username", in.Username)
	if len(in.Password) < MinPasswordLen {
		fe.add("password", "at least 8 characters")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			fe.add("email", "invalid address")
		}
	}
	if in.SiteID != nil && *in.SiteID == 0 {
		in.SiteID = nil
	}
	if err := s.checkSite(ctx, in.SiteID, fe); err != nil {
		return nil, err
	}
	if err := fe.err(); err != nil {
		return nil, err
	}
	id, err := s.Users.Create(ctx, repository.NewUser{
		Username: in.Username, Email: in.Email, FirstName: in.FirstName, LastName: in.LastName,
		Password: in.Password, IsSuperuser: in.IsSuperuser, SiteID: in.SiteID, IsAdmin: in.IsAdmin,
	}, s.BcryptCost)
	if errors.Is(err, repository.ErrUsernameExists) {
		return nil, invalid("username", "already in use")
	}
	if err != nil {
		return nil, err
	}
	s.Log.Info("user created", zap.Uint64("user_id", id), zap.String("username", in.Username),
		zap.Uint64("by", actor.UserID))
	return s.view(ctx, id)
}

func (s *UserService) view(ctx context.Context, id uint64) (*UserView, error) {
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "user")
	}
	v := &UserView{User: u}
	if p, err := s.Users.GetProfile(ctx, id); err == nil {
		v.Profile = p
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return v, nil
}

// ProfileInput assigns a site and the administrator flag.
type ProfileInput struct {
	SiteID   *uint64
	IsAdmin  bool
	IsActive *bool
}

// UpdateProfile changes a user's site assignment and admin flag.  Admin
// only.  A nil or zero SiteID clears the assignment.
func (s *UserService) UpdateProfile(ctx context.Context, actor Actor, userID uint64, in ProfileInput) (*UserView, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err, "user")
	}
	if in.SiteID != nil && *in.SiteID == 0 {
		in.SiteID = nil
	}
	fe := fieldErrors{}
	if err := s.checkSite(ctx, in.SiteID, fe); err != nil {
		return nil, err
	}
	if err := fe.err(); err != nil {
		return nil, err
	}
	if in.IsActive != nil && *in.IsActive != u.IsActive {
		u.IsActive = *in.IsActive
		if err := s.Users.Update(ctx, u); err != nil {
			return nil, mapRepoErr(err, "user")
		}
		if !u.IsActive {
			if err := s.Tokens.RevokeAllForUser(ctx, u.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Users.SaveProfile(ctx, &model.UserProfile{UserID: userID, SiteID: in.SiteID, IsAdmin: in.IsAdmin}); err != nil {
		return nil, err
	}
	s.Log.Info("profile updated", zap.Uint64("user_id", userID), zap.Bool("is_admin", in.IsAdmin),
		zap.Uint64("by", actor.UserID))
	return s.view(ctx, userID)
}

// ChangePassword verifies the current password, stores the new one and
// revokes every refresh token of the user.
func (s *UserService) ChangePassword(ctx context.Context, actor Actor, current, next string) error {
	u, err := s.Users.GetByID(ctx, actor.UserID)
	if err != nil {
		return mapRepoErr(err, "user")
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return invalid("current_password", "incorrect")
	}
	if len(next) < MinPasswordLen {
		return invalid("new_password", "at least 8 characters")
	}
	if err := s.Users.SetPassword(ctx, u.ID, next, s.BcryptCost); err != nil {
		return mapRepoErr(err, "user")
	}
	return s.Tokens.RevokeAllForUser(ctx, u.ID)
}
