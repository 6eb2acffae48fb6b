package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"brewledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "739154", store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateOwnerStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "739154", store)

	owner, err := manager.CreateOwner(domain.OwnerCreateRequest{
		Username: "kiosk-two",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create owner failed: %v", err)
	}
	if owner.Username != "kiosk-two" || owner.Role != domain.RoleOwner {
		t.Fatalf("unexpected owner %+v", owner)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "kiosk-two" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected owner to be saved")
	}
	if found.Password == "pass1234" || !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "kiosk-two",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed owner password failed: %v", err)
	}
}

func TestCreateOwnerRejectsWeakInput(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", &userStoreStub{})

	if _, err := manager.CreateOwner(domain.OwnerCreateRequest{Username: "ab", Password: "secret99"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := manager.CreateOwner(domain.OwnerCreateRequest{Username: "kiosk two", Password: "secret99"}); err == nil {
		t.Fatalf("expected username with spaces to be rejected")
	}
	if _, err := manager.CreateOwner(domain.OwnerCreateRequest{Username: "kiosk", Password: "123"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", &userStoreStub{})

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", &userStoreStub{})

	expired, err := manager.sign("barista", domain.RoleOwner, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other := NewAuthManager("different-secret", time.Hour, "739154", &userStoreStub{})
	foreign, err := other.sign("barista", domain.RoleOwner, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	valid, err := manager.sign("barista", domain.RoleOwner, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, err := manager.ParseToken(valid)
	if err != nil {
		t.Fatalf("parse valid token: %v", err)
	}
	if actor.Username != "barista" || actor.Role != domain.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}
}
