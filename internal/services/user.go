package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/absensi-app/apiserver/internal/store"
	"github.com/absensi-app/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// RegisterInput carries the already validated fields of a registration.
type RegisterInput struct {
	Email    string
	Name     string
	Role     string
	Position string
	Password string
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
	cost int
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, cost: bcrypt.DefaultCost}
}

// Register creates an account with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	role := in.Role
	if role == "" {
		role = types.RoleEmployee
	}
	if !types.ValidRole(role) {
		return types.User{}, ErrInvalidRole
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := types.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Role:         role,
		PasswordHash: string(hashed),
	}
	if position := strings.TrimSpace(in.Position); position != "" {
		user.Position = &position
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}
	return created, nil
}

// Authenticate checks credentials and records the login time.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return types.User{}, fmt.Errorf("record login: %w", err)
	}
	user.UpdatedAt = now
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

// Update applies the non-nil, non-blank fields of patch. Blank strings are
// treated as absent, so a patch of only blanks returns ErrNothingToUpdate.
// A new password is rehashed.
func (s *UserService) Update(ctx context.Context, id string, patch types.UserPatch) (types.User, error) {
	patch.Name = nonBlank(patch.Name)
	patch.Position = nonBlank(patch.Position)
	patch.Role = nonBlank(patch.Role)
	patch.Password = nonBlank(patch.Password)
	if patch.Empty() {
		return types.User{}, ErrNothingToUpdate
	}
	if patch.Role != nil && !types.ValidRole(*patch.Role) {
		return types.User{}, ErrInvalidRole
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Position != nil {
		position := strings.TrimSpace(*patch.Position)
		user.Position = &position
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	if patch.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*patch.Password), s.cost)
		if err != nil {
			return types.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hashed)
	}

	return s.repo.Update(ctx, user)
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func nonBlank(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	return value
}
