package config

import (
	"context"
	"errors"
	"testing"

	"github.com/iotdash/iotdash/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "$2a$10$fakehash", Name: email}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "Alice@Example.com")
	if u.ID == "" {
		t.Fatal("expected generated ID after create")
	}
	if u.Role != model.RoleUser {
		t.Errorf("default role = %q, want %q", u.Role, model.RoleUser)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized lower case", got.Email)
	}

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("GetUserByEmail ID = %q, want %q", byEmail.ID, u.ID)
	}

	if err := s.SetUserRole(ctx, u.ID, model.RoleSysAdmin); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.Role != model.RoleSysAdmin {
		t.Errorf("role = %q, want sysadmin", got.Role)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("got %d users, want 1", len(users))
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createUser(t, s, "dup@example.com")

	err := s.CreateUser(context.Background(), &model.User{Email: "dup@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetUserAccounts(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserAccounts: expected ErrNotFound, got %v", err)
	}
	if err := s.SetUserRole(context.Background(), "missing", model.RoleUser); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetUserRole: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Accounts and memberships
// ---------------------------------------------------------------------------

func TestCreateAccountMakesOwnerAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner@example.com")

	acct := &model.Account{Name: "Greenhouse"}
	if err := s.CreateAccount(ctx, acct, owner.ID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected generated account ID")
	}

	ua, err := s.GetUserAccounts(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetUserAccounts: %v", err)
	}
	got, ok := ua.Accounts[acct.ID]
	if !ok {
		t.Fatalf("owner has no membership in %s", acct.ID)
	}
	if got.Role != model.RoleAdmin {
		t.Errorf("owner role = %q, want admin", got.Role)
	}
	if got.Name != "Greenhouse" {
		t.Errorf("account name = %q, want Greenhouse", got.Name)
	}
	if ua.Role != model.RoleUser {
		t.Errorf("global role = %q, want user", ua.Role)
	}
}

func TestMembershipLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner@example.com")
	bob := createUser(t, s, "bob@example.com")

	acct := &model.Account{Name: "Lab"}
	if err := s.CreateAccount(ctx, acct, owner.ID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := s.SetMember(ctx, acct.ID, bob.ID, model.RoleUser); err != nil {
		t.Fatalf("SetMember: %v", err)
	}
	// Changing the role of an existing membership is an upsert.
	if err := s.SetMember(ctx, acct.ID, bob.ID, model.RoleAdmin); err != nil {
		t.Fatalf("SetMember (update): %v", err)
	}

	members, err := s.ListMembers(ctx, acct.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].Email != "bob@example.com" || members[0].Role != model.RoleAdmin {
		t.Errorf("first member = %+v, want bob as admin", members[0])
	}

	if err := s.RemoveMember(ctx, acct.ID, bob.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	ua, _ := s.GetUserAccounts(ctx, bob.ID)
	if len(ua.Accounts) != 0 {
		t.Errorf("expected no memberships after removal, got %v", ua.Accounts)
	}
	if err := s.RemoveMember(ctx, acct.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveMember: expected ErrNotFound, got %v", err)
	}
}

func TestSetMemberUnknownAccount(t *testing.T) {
	s := newTestStore(t)
	u := createUser(t, s, "u@example.com")
	err := s.SetMember(context.Background(), "no-such-account", u.ID, model.RoleUser)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAccountCascadesMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner@example.com")
	acct := &model.Account{Name: "Temp"}
	if err := s.CreateAccount(ctx, acct, owner.ID); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := s.RenameAccount(ctx, acct.ID, "Temp 2"); err != nil {
		t.Fatalf("RenameAccount: %v", err)
	}
	if got, _ := s.GetAccount(ctx, acct.ID); got.Name != "Temp 2" {
		t.Errorf("name after rename = %q, want Temp 2", got.Name)
	}

	if err := s.DeleteAccount(ctx, acct.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	ua, err := s.GetUserAccounts(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetUserAccounts: %v", err)
	}
	if len(ua.Accounts) != 0 {
		t.Errorf("expected memberships to be cascade deleted, got %v", ua.Accounts)
	}
	if _, err := s.GetAccount(ctx, acct.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount after delete: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Purchased limits
// ---------------------------------------------------------------------------

func TestPurchasedLimitCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const route = "/api/accounts/.*/rules/.*"

	if _, ok, err := s.GetLimitForRoute(ctx, "acct-1", route, "PUT"); err != nil || ok {
		t.Fatalf("expected no override initially, got ok=%v err=%v", ok, err)
	}

	l := &model.PurchasedLimit{Requester: "acct-1", Route: route, Method: "put", Limit: 100}
	if err := s.SetPurchasedLimit(ctx, l); err != nil {
		t.Fatalf("SetPurchasedLimit: %v", err)
	}

	limit, ok, err := s.GetLimitForRoute(ctx, "acct-1", route, "PUT")
	if err != nil || !ok {
		t.Fatalf("GetLimitForRoute: ok=%v err=%v", ok, err)
	}
	if limit != 100 {
		t.Errorf("limit = %d, want 100", limit)
	}

	// Replace.
	l.Limit = 250
	if err := s.SetPurchasedLimit(ctx, l); err != nil {
		t.Fatalf("SetPurchasedLimit (replace): %v", err)
	}
	limit, _, _ = s.GetLimitForRoute(ctx, "acct-1", route, "put")
	if limit != 250 {
		t.Errorf("limit after replace = %d, want 250", limit)
	}

	limits, err := s.ListPurchasedLimits(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListPurchasedLimits: %v", err)
	}
	if len(limits) != 1 || limits[0].Method != "PUT" {
		t.Errorf("ListPurchasedLimits = %+v, want one PUT override", limits)
	}

	if err := s.DeletePurchasedLimit(ctx, "acct-1", route, "PUT"); err != nil {
		t.Fatalf("DeletePurchasedLimit: %v", err)
	}
	if _, ok, _ := s.GetLimitForRoute(ctx, "acct-1", route, "PUT"); ok {
		t.Error("expected override to be gone after delete")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "whatever"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
