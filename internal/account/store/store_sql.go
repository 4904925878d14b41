package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"authgate/internal/platform/config"
	"authgate/internal/policy/models"
)

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore reads account status from a users table with the columns
// id, email, active, suspended and suspended_reason.
type SQLStore struct {
	db     *sql.DB
	driver string
	table  string
}

// Open connects with database/sql using one of the registered drivers
// ("pgx", "mysql" or "sqlite") and verifies the connection.
func Open(ctx context.Context, cfg config.AccountsConfig) (*SQLStore, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open accounts db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping accounts db: %w", err)
	}

	store, err := NewSQLStore(db, cfg.Driver, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = "users"
	}
	if !identRx.MatchString(table) {
		return nil, fmt.Errorf("invalid SQL identifier %q", table)
	}
	return &SQLStore{db: db, driver: driver, table: table}, nil
}

// FindAccountByIDOrEmail looks up by userID when set, otherwise by
// case-insensitive email. A missing row is (nil, nil).
func (s *SQLStore) FindAccountByIDOrEmail(ctx context.Context, userID, email string) (*models.Account, error) {
	cond, arg := "id = "+s.ph(1), userID
	if userID == "" {
		cond, arg = "LOWER(email) = "+s.ph(1), normalizeEmail(email)
	}
	q := fmt.Sprintf("SELECT id, email, active, suspended, suspended_reason FROM %s WHERE %s", s.table, cond)

	var (
		account models.Account
		reason  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&account.ID, &account.Email, &account.Active, &account.Suspended, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	account.SuspendedReason = reason.String
	return &account, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ph(i int) string {
	d := strings.ToLower(s.driver)
	if strings.Contains(d, "pgx") || strings.Contains(d, "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
