package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absensi-app/apiserver/internal/store"
	"github.com/absensi-app/apiserver/internal/store/storetest"
	"github.com/absensi-app/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

func newTestUserService() (*UserService, *storetest.Memory) {
	mem := storetest.New()
	svc := NewUserService(mem.Users)
	svc.cost = bcrypt.MinCost
	return svc, mem
}

func TestRegisterHashesPasswordAndDefaultsRole(t *testing.T) {
	svc, _ := newTestUserService()

	user, err := svc.Register(context.Background(), RegisterInput{
		Email:    " Siti@Example.com ",
		Name:     "Siti",
		Password: "rahasia",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "siti@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Role != types.RoleEmployee {
		t.Fatalf("unexpected role: %q", user.Role)
	}
	if user.Position != nil {
		t.Fatalf("empty position should be nil")
	}
	if user.PasswordHash == "rahasia" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("rahasia")) != nil {
		t.Fatalf("password not hashed")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, mem := newTestUserService()
	in := RegisterInput{Email: "a@example.com", Name: "A", Role: types.RoleAdmin, Password: "secret1"}
	if _, err := svc.Register(context.Background(), in); err != nil {
		t.Fatalf("register: %v", err)
	}

	in.Email = "A@example.com"
	if _, err := svc.Register(context.Background(), in); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("got %v, want %v", err, ErrEmailTaken)
	}
	users, _ := mem.Users.List(context.Background())
	if len(users) != 1 {
		t.Fatalf("expected one user, got %d", len(users))
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestUserService()
	registered, err := svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Name: "A", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), "a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v", err)
	}

	time.Sleep(time.Millisecond)
	user, err := svc.Authenticate(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !user.UpdatedAt.After(registered.UpdatedAt) {
		t.Fatalf("login time not recorded")
	}
}

func TestUpdateUser(t *testing.T) {
	svc, _ := newTestUserService()
	user, err := svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Name: "A", Position: "Staff", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Update(context.Background(), user.ID, types.UserPatch{}); !errors.Is(err, ErrNothingToUpdate) {
		t.Fatalf("empty patch: got %v", err)
	}
	bogus := "OWNER"
	if _, err := svc.Update(context.Background(), user.ID, types.UserPatch{Role: &bogus}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("bad role: got %v", err)
	}
	name := "B"
	if _, err := svc.Update(context.Background(), "missing", types.UserPatch{Name: &name}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing user: got %v", err)
	}

	role, password, empty := types.RoleAdmin, "newsecret", ""
	updated, err := svc.Update(context.Background(), user.ID, types.UserPatch{
		Name:     &name,
		Role:     &role,
		Password: &password,
		Position: &empty,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "B" || updated.Role != types.RoleAdmin {
		t.Fatalf("unexpected user: %+v", updated)
	}
	if updated.Position == nil || *updated.Position != "Staff" {
		t.Fatalf("blank position should be ignored, got %v", updated.Position)
	}
	if _, err := svc.Authenticate(context.Background(), "a@example.com", "newsecret"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestUpdateUserIgnoresBlankFields(t *testing.T) {
	svc, _ := newTestUserService()
	user, err := svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Name: "Alice", Position: "Staff", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	blank, spaces := "", "   "
	_, err = svc.Update(context.Background(), user.ID, types.UserPatch{
		Name:     &spaces,
		Position: &blank,
		Role:     &blank,
		Password: &spaces,
	})
	if !errors.Is(err, ErrNothingToUpdate) {
		t.Fatalf("blank patch: got %v", err)
	}

	got, err := svc.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Alice" || got.Position == nil || *got.Position != "Staff" {
		t.Fatalf("user changed: %+v", got)
	}
	if _, err := svc.Authenticate(context.Background(), "a@example.com", "secret1"); err != nil {
		t.Fatalf("old password rejected: %v", err)
	}
}

func TestDeleteRemovesUserFromList(t *testing.T) {
	svc, _ := newTestUserService()
	a, _ := svc.Register(context.Background(), RegisterInput{Email: "a@example.com", Name: "A", Password: "secret1"})
	b, _ := svc.Register(context.Background(), RegisterInput{Email: "b@example.com", Name: "B", Password: "secret1"})

	if err := svc.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(context.Background(), a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: got %v", err)
	}

	users, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].ID != b.ID {
		t.Fatalf("unexpected users: %+v", users)
	}
}
