package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
)

// Session is the token pair handed to a client.
type Session struct {
	User         *insurance.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// NewUser registers a back-office user.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     insurance.Role
}

const minPasswordLength = 8

type Service struct {
	users      insurance.UserStore
	tokens     *TokenIssuer
	refresh    RefreshStore
	refreshTTL time.Duration
	audit      insurance.AuditSink
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(users insurance.UserStore, tokens *TokenIssuer, refresh RefreshStore, refreshTTL time.Duration, audit insurance.AuditSink, logger *zap.Logger) *Service {
	if audit == nil {
		audit = insurance.NopAuditSink{}
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		refresh:    refresh,
		refreshTTL: refreshTTL,
		audit:      audit,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
}

// Login checks the password and opens a session.
func (s *Service) Login(ctx context.Context, email, password, ipAddress string) (*Session, error) {
	if email == "" || password == "" {
		return nil, &insurance.ValidationError{Message: "email and password are required"}
	}

	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if insurance.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Status != insurance.UserActive {
		return nil, ErrInactiveUser
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}

	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("recording last login failed", zap.String("user_id", string(user.ID)), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	session, err := s.open(ctx, user)
	if err != nil {
		return nil, err
	}

	actor := insurance.Actor{ID: user.ID, Role: user.Role, IPAddress: ipAddress}
	s.audit.Record(ctx, actor.Event(insurance.EntityUser, string(user.ID), insurance.ActionLogin, nil, nil, now))
	s.logger.Info("user logged in", zap.String("user_id", string(user.ID)), zap.String("role", string(user.Role)))
	return session, nil
}

// Refresh consumes a refresh token and rotates to a new pair. A token can
// be used once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	userID, err := s.refresh.Consume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, userID)
	if insurance.IsNotFound(err) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if user.Status != insurance.UserActive {
		return nil, ErrInactiveUser
	}
	return s.open(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.refresh.Revoke(ctx, refreshToken)
}

// Authenticate resolves a bearer access token to an active user's Actor.
func (s *Service) Authenticate(ctx context.Context, accessToken, ipAddress string) (insurance.Actor, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return insurance.Actor{}, err
	}

	user, err := s.users.GetUser(ctx, insurance.UserID(claims.Subject))
	if insurance.IsNotFound(err) {
		return insurance.Actor{}, ErrInvalidToken
	}
	if err != nil {
		return insurance.Actor{}, err
	}
	if user.Status != insurance.UserActive {
		return insurance.Actor{}, ErrInactiveUser
	}
	return insurance.Actor{ID: user.ID, Role: user.Role, IPAddress: ipAddress}, nil
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, actor insurance.Actor, in NewUser) (*insurance.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, &insurance.ValidationError{Field: "username", Message: "is required"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, &insurance.ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if len(in.Password) < minPasswordLength {
		return nil, &insurance.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if !in.Role.Valid() {
		return nil, &insurance.ValidationError{Field: "role", Message: "is not a known role"}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &insurance.User{
		ID:           insurance.UserID(uuid.NewString()),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Status:       insurance.UserActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, insurance.ErrConflict) {
			return nil, fmt.Errorf("user %s already exists: %w", in.Email, insurance.ErrConflict)
		}
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityUser, string(user.ID), insurance.ActionCreate, nil, userSnapshot(user), now))
	return user, nil
}

// UserPatch carries the fields an administrator may change. Nil fields are
// left untouched; a non-nil Password is re-hashed.
type UserPatch struct {
	Username *string
	Email    *string
	Role     *insurance.Role
	Status   *insurance.UserStatus
	Password *string
}

// ListUsers returns users newest first, without password hashes.
func (s *Service) ListUsers(ctx context.Context, filter insurance.UserFilter) ([]insurance.User, error) {
	users, err := s.users.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, id insurance.UserID) (*insurance.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// UpdateUser applies an administrator's patch. Deactivating a user takes
// effect on the next request, since Authenticate checks the stored status.
func (s *Service) UpdateUser(ctx context.Context, actor insurance.Actor, id insurance.UserID, patch UserPatch) (*insurance.User, error) {
	current, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	if patch.Username != nil {
		updated.Username = strings.TrimSpace(*patch.Username)
		if updated.Username == "" {
			return nil, &insurance.ValidationError{Field: "username", Message: "is required"}
		}
	}
	if patch.Email != nil {
		updated.Email = strings.TrimSpace(*patch.Email)
		if _, err := mail.ParseAddress(updated.Email); err != nil {
			return nil, &insurance.ValidationError{Field: "email", Message: "is not a valid address"}
		}
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, &insurance.ValidationError{Field: "role", Message: "is not a known role"}
		}
		updated.Role = *patch.Role
	}
	if patch.Status != nil {
		if *patch.Status != insurance.UserActive && *patch.Status != insurance.UserInactive {
			return nil, &insurance.ValidationError{Field: "status", Message: "must be ACTIVE or INACTIVE"}
		}
		updated.Status = *patch.Status
	}
	if patch.Password != nil {
		if len(*patch.Password) < minPasswordLength {
			return nil, &insurance.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
		}
		if updated.PasswordHash, err = HashPassword(*patch.Password); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	updated.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, &updated); err != nil {
		if errors.Is(err, insurance.ErrConflict) {
			return nil, fmt.Errorf("user %s already exists: %w", updated.Email, insurance.ErrConflict)
		}
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityUser, string(id), insurance.ActionUpdate,
		userSnapshot(current), userSnapshot(&updated), now))
	s.logger.Info("user updated",
		zap.String("user_id", string(id)),
		zap.String("role", string(updated.Role)),
		zap.String("status", string(updated.Status)))

	updated.PasswordHash = ""
	return &updated, nil
}

func userSnapshot(u *insurance.User) map[string]string {
	return map[string]string{"username": u.Username, "email": u.Email, "role": string(u.Role), "status": string(u.Status)}
}

// EnsureAdmin creates an ADMIN user with the given credentials unless a
// user with that email already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !insurance.IsNotFound(err) {
		return false, err
	}

	username, _, _ := strings.Cut(email, "@")
	user, err := s.Register(ctx, insurance.SystemActor, NewUser{
		Username: username,
		Email:    email,
		Password: password,
		Role:     insurance.RoleAdmin,
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", string(user.ID)), zap.String("email", email))
	return true, nil
}

func (s *Service) open(ctx context.Context, user *insurance.User) (*Session, error) {
	access, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Save(ctx, refresh, user.ID, s.refreshTTL); err != nil {
		return nil, err
	}

	safe := *user
	safe.PasswordHash = ""
	return &Session{
		User:         &safe,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.tokens.TTL(),
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &insurance.ValidationError{Field: "password", Message: "is too long"}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}
