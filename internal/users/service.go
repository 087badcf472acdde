package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"instaq/internal/apperr"
	"instaq/internal/auth"
)

// TokenConfig carries what the service needs to sign tokens.
type TokenConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Session is the result of a successful signup, login or refresh.
type Session struct {
	User   User
	Tokens auth.TokenPair
}

// Service registers and authenticates users and acts as the principal directory.
type Service struct {
	repo     *Repository
	tokens   TokenConfig
	revoker  auth.Revoker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, tokens TokenConfig, revoker auth.Revoker, logger *slog.Logger) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, revoker: revoker, validate: v, logger: logger}
}

// Create validates and stores a user without issuing tokens.
func (s *Service) Create(ctx context.Context, in RegisterInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	if err := s.validateInput(in); err != nil {
		return User{}, err
	}
	role := in.Role
	if role == "" {
		role = auth.RoleStaff
	}
	if !auth.ValidRole(role) {
		return User{}, apperr.Invalid("role", "Invalid role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		Phone:        in.Phone,
		Address:      in.Address,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		return User{}, err
	}
	s.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Register creates a staff account and signs the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Role = auth.RoleStaff
	u, err := s.Create(ctx, in)
	if err != nil {
		return Session{}, err
	}
	return s.issue(ctx, u)
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	verr := &apperr.ValidationError{}
	email = strings.ToLower(strings.TrimSpace(email))
	if s.validate.Var(email, "required,email") != nil {
		verr.Add("email", "Please include a valid email")
	}
	if password == "" {
		verr.Add("password", "Password is required")
	}
	if err := verr.OrNil(); err != nil {
		return Session{}, err
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return Session{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthenticated)
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a live refresh token for a new pair, revoking the old one.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := auth.Parse(refreshToken, s.tokens.SigningKey, s.tokens.Issuer)
	if err != nil || claims.Type != auth.TokenRefresh {
		return Session{}, fmt.Errorf("refresh token: %w", apperr.ErrUnauthenticated)
	}
	active, err := s.repo.ActiveRefreshToken(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	if !active {
		return Session{}, fmt.Errorf("refresh token revoked: %w", apperr.ErrUnauthenticated)
	}
	u, err := s.repo.GetByID(ctx, claims.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return Session{}, fmt.Errorf("refresh token owner gone: %w", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return Session{}, err
	}
	return s.issue(ctx, u)
}

// Logout revokes the current access token and, when given, a refresh token.
func (s *Service) Logout(ctx context.Context, access auth.Claims, refreshToken string) error {
	if s.revoker != nil && access.ID != "" {
		if err := s.revoker.Revoke(ctx, access.ID, access.Expiry()); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	s.logger.Info("user logged out", "user_id", access.Subject)
	return nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// Lookup resolves an id to a principal; it satisfies auth.Resolver.
func (s *Service) Lookup(ctx context.Context, id string) (auth.Principal, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return auth.Principal{}, err
	}
	return u.Principal(), nil
}

func (s *Service) issue(ctx context.Context, u User) (Session, error) {
	pair, err := auth.Issue(u.ID, u.Role, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.repo.SaveRefreshToken(ctx, u.ID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return Session{}, fmt.Errorf("save refresh token: %w", err)
	}
	return Session{User: u, Tokens: pair}, nil
}

func (s *Service) validateInput(in RegisterInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &apperr.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() + "." + fe.Tag() {
	case "name.required":
		return "Name is required"
	case "email.required", "email.email":
		return "Please include a valid email"
	case "password.required", "password.min":
		return "Please enter a password with 6 or more characters"
	}
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	default:
		return "Invalid value"
	}
}
