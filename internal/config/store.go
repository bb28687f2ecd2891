package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/iotdash/iotdash/internal/model"
)

// Supported directory drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Store is the account/user directory and the source of truth for
// purchased rate-limit overrides. It is backed by a relational database
// through sqlx.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens a SQLite directory in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "iotdash.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open(DriverSQLite, dsn)
}

// Open connects to the directory database using one of the supported
// drivers and runs the migrations. MySQL DSNs must set parseTime=true.
func Open(driver, dsn string) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver = DriverSQLite, "sqlite"
	case DriverPostgres:
		sqlDriver = "pgx"
	case DriverMySQL:
		sqlDriver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", driver)
	}

	db, err := sqlx.Connect(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate directory database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. ID, Role, CreatedAt and UpdatedAt are
// filled in when empty.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :name, :role, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by its unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT * FROM users WHERE email = ?")
	if err := s.db.GetContext(ctx, &u, q, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetUserRole changes a user's global role.
func (s *Store) SetUserRole(ctx context.Context, id, role string) error {
	q := s.db.Rebind("UPDATE users SET role = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return expectRows(result, "set user role")
}

// ---------------------------------------------------------------------------
// Accounts and memberships
// ---------------------------------------------------------------------------

// CreateAccount inserts a new account and makes ownerID its admin in the
// same transaction.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account, ownerID string) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO accounts (id, name, created_at, updated_at)
		VALUES (:id, :name, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	if ownerID != "" {
		mq := tx.Rebind(`INSERT INTO account_members (account_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, mq, a.ID, ownerID, model.RoleAdmin, now); err != nil {
			return fmt.Errorf("insert account owner: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create account: %w", err)
	}
	return nil
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if err := s.db.GetContext(ctx, &a, s.db.Rebind("SELECT * FROM accounts WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// ListAccounts returns every account ordered by name.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts, "SELECT * FROM accounts ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// RenameAccount changes an account's display name.
func (s *Store) RenameAccount(ctx context.Context, id, name string) error {
	q := s.db.Rebind("UPDATE accounts SET name = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename account: %w", err)
	}
	return expectRows(result, "rename account")
}

// DeleteAccount removes an account. Memberships are cascade deleted.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM accounts WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return expectRows(result, "delete account")
}

// SetMember adds userID to accountID with role, or changes the role of an
// existing membership.
func (s *Store) SetMember(ctx context.Context, accountID, userID, role string) error {
	var q string
	if s.driver == DriverMySQL {
		q = `INSERT INTO account_members (account_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE role = VALUES(role)`
	} else {
		q = `INSERT INTO account_members (account_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (account_id, user_id) DO UPDATE SET role = excluded.role`
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), accountID, userID, role, time.Now().UTC()); err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("set member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership.
func (s *Store) RemoveMember(ctx context.Context, accountID, userID string) error {
	q := s.db.Rebind("DELETE FROM account_members WHERE account_id = ? AND user_id = ?")
	result, err := s.db.ExecContext(ctx, q, accountID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return expectRows(result, "remove member")
}

// ListMembers returns the memberships of an account with member emails.
func (s *Store) ListMembers(ctx context.Context, accountID string) ([]model.Member, error) {
	q := s.db.Rebind(`SELECT m.account_id, m.user_id, u.email, m.role, m.created_at
		FROM account_members m JOIN users u ON u.id = m.user_id
		WHERE m.account_id = ? ORDER BY u.email`)
	var members []model.Member
	if err := s.db.SelectContext(ctx, &members, q, accountID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

type membershipRow struct {
	AccountID   string `db:"account_id"`
	AccountName string `db:"name"`
	Role        string `db:"role"`
}

// GetUserAccounts returns the user's global role and live account
// memberships. It returns ErrNotFound when the user does not exist.
func (s *Store) GetUserAccounts(ctx context.Context, userID string) (*model.UserAccounts, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	q := s.db.Rebind(`SELECT m.account_id, a.name, m.role
		FROM account_members m JOIN accounts a ON a.id = m.account_id
		WHERE m.user_id = ?`)
	var rows []membershipRow
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("get user accounts: %w", err)
	}

	ua := &model.UserAccounts{
		UserID:   u.ID,
		Role:     u.Role,
		Accounts: make(map[string]model.AccountRole, len(rows)),
	}
	for _, r := range rows {
		ua.Accounts[r.AccountID] = model.AccountRole{Name: r.AccountName, Role: r.Role}
	}
	return ua, nil
}

// ---------------------------------------------------------------------------
// Purchased limits
// ---------------------------------------------------------------------------

// SetPurchasedLimit creates or replaces the override for
// (requester, route, method).
func (s *Store) SetPurchasedLimit(ctx context.Context, l *model.PurchasedLimit) error {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	var q string
	if s.driver == DriverMySQL {
		q = `INSERT INTO purchased_limits (requester, route, method, limit_per_window, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE limit_per_window = VALUES(limit_per_window), updated_at = VALUES(updated_at)`
	} else {
		q = `INSERT INTO purchased_limits (requester, route, method, limit_per_window, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (requester, route, method)
			DO UPDATE SET limit_per_window = excluded.limit_per_window, updated_at = excluded.updated_at`
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		l.Requester, l.Route, strings.ToUpper(l.Method), l.Limit, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set purchased limit: %w", err)
	}
	return nil
}

// GetLimitForRoute returns the persisted override for
// (requester, route, method). The boolean is false when none exists.
func (s *Store) GetLimitForRoute(ctx context.Context, requester, route, method string) (int64, bool, error) {
	var limit int64
	q := s.db.Rebind(`SELECT limit_per_window FROM purchased_limits
		WHERE requester = ? AND route = ? AND method = ?`)
	if err := s.db.GetContext(ctx, &limit, q, requester, route, strings.ToUpper(method)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get purchased limit: %w", err)
	}
	return limit, true, nil
}

// ListPurchasedLimits returns the overrides held by requester, or every
// override when requester is empty.
func (s *Store) ListPurchasedLimits(ctx context.Context, requester string) ([]model.PurchasedLimit, error) {
	var (
		limits []model.PurchasedLimit
		err    error
	)
	if requester == "" {
		err = s.db.SelectContext(ctx, &limits,
			"SELECT * FROM purchased_limits ORDER BY requester, route, method")
	} else {
		err = s.db.SelectContext(ctx, &limits,
			s.db.Rebind("SELECT * FROM purchased_limits WHERE requester = ? ORDER BY route, method"), requester)
	}
	if err != nil {
		return nil, fmt.Errorf("list purchased limits: %w", err)
	}
	return limits, nil
}

// DeletePurchasedLimit removes the override for (requester, route, method).
func (s *Store) DeletePurchasedLimit(ctx context.Context, requester, route, method string) error {
	q := s.db.Rebind("DELETE FROM purchased_limits WHERE requester = ? AND route = ? AND method = ?")
	result, err := s.db.ExecContext(ctx, q, requester, route, strings.ToUpper(method))
	if err != nil {
		return fmt.Errorf("delete purchased limit: %w", err)
	}
	return expectRows(result, "delete purchased limit")
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

func expectRows(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}

func isForeignKeyViolation(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "foreign key")
}
