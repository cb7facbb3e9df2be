package entitlements

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAlreadyActive is returned when a grant would create a second active
// entitlement for the same email.
var ErrAlreadyActive = errors.New("email already has active access")

// Store provides CRUD operations for entitlement records backed by SQLite.
//
// At most one active entitlement per email is enforced with a partial unique
// index, so concurrent check-then-insert races collapse into a constraint
// violation instead of duplicate active rows.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the entitlement database in dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create entitlement store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "entitlements.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		tier        TEXT NOT NULL,
		country     TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  INTEGER NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_active_email
		ON entitlements(email) WHERE active = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_payment_ref
		ON entitlements(payment_ref) WHERE payment_ref != '';
	CREATE INDEX IF NOT EXISTS idx_entitlements_user_id ON entitlements(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the active entitlement matched by user ID or email,
// preferring the most recently created when history contains several rows.
// Returns nil without error when no active row matches.
func (s *Store) Lookup(email, userID string) (*Entitlement, error) {
	email = NormalizeEmail(email)
	userID = strings.TrimSpace(userID)
	if email == "" && userID == "" {
		return nil, fmt.Errorf("email or userID is required")
	}

	row := s.db.QueryRow(`SELECT
		id, email, user_id, tier, country, active, created_at, payment_ref, metadata
		FROM entitlements
		WHERE active = 1 AND ((user_id != '' AND user_id = ?) OR email = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID, email)
	return scanEntitlement(row)
}

// Grant inserts a new active entitlement. Returns ErrAlreadyActive if the
// email already has an active row.
func (s *Store) Grant(e *Entitlement) error {
	if e == nil {
		return fmt.Errorf("entitlement is nil")
	}
	e.Email = NormalizeEmail(e.Email)
	if e.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !ValidTier(e.Tier) {
		return fmt.Errorf("invalid tier %q", e.Tier)
	}
	if !ValidCountry(e.Country) {
		return fmt.Errorf("invalid country %q", e.Country)
	}
	if e.ID == "" {
		id, err := GenerateID()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Active = true

	_, err := s.db.Exec(`
		INSERT INTO entitlements (id, email, user_id, tier, country, active, created_at, payment_ref, metadata)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		e.ID, e.Email, e.UserID, string(e.Tier), string(e.Country),
		e.CreatedAt.Unix(), e.PaymentRef, e.Metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyActive
		}
		return fmt.Errorf("grant entitlement: %w", err)
	}
	return nil
}

// GrantFromPayment records an entitlement for a completed payment. It is
// idempotent against at-least-once webhook delivery: if the payment reference
// was already recorded, or the email already holds an active entitlement, the
// existing row is returned with created=false and no error.
func (s *Store) GrantFromPayment(e *Entitlement) (granted *Entitlement, created bool, err error) {
	if e == nil {
		return nil, false, fmt.Errorf("entitlement is nil")
	}
	if strings.TrimSpace(e.PaymentRef) == "" {
		return nil, false, fmt.Errorf("payment reference is required")
	}

	existing, err := s.GetByPaymentRef(e.PaymentRef)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.Grant(e); err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			active, lookupErr := s.Lookup(e.Email, "")
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if active != nil {
				return active, false, nil
			}
		}
		return nil, false, err
	}
	return e, true, nil
}

// GetByPaymentRef returns the entitlement recorded for a payment reference,
// or nil when none exists.
func (s *Store) GetByPaymentRef(paymentRef string) (*Entitlement, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT
		id, email, user_id, tier, country, active, created_at, payment_ref, metadata
		FROM entitlements WHERE payment_ref = ?`, paymentRef)
	return scanEntitlement(row)
}

// AttachUser links a user account ID to the active entitlement for email.
// Missing rows are not an error; the linking flow is best-effort.
func (s *Store) AttachUser(email, userID string) error {
	email = NormalizeEmail(email)
	userID = strings.TrimSpace(userID)
	if email == "" || userID == "" {
		return fmt.Errorf("email and userID are required")
	}
	_, err := s.db.Exec(`UPDATE entitlements SET user_id = ? WHERE email = ? AND active = 1`,
		userID, email)
	if err != nil {
		return fmt.Errorf("attach user to entitlement: %w", err)
	}
	return nil
}

// Deactivate marks all active entitlements for email inactive. Rows are never
// hard-deleted.
func (s *Store) Deactivate(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := s.db.Exec(`UPDATE entitlements SET active = 0 WHERE email = ? AND active = 1`, email); err != nil {
		return fmt.Errorf("deactivate entitlements: %w", err)
	}
	return nil
}

// List returns all entitlements, newest first. When activeOnly is set,
// inactive history rows are excluded.
func (s *Store) List(activeOnly bool) ([]*Entitlement, error) {
	query := `SELECT id, email, user_id, tier, country, active, created_at, payment_ref, metadata
		FROM entitlements`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var out []*Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountActive returns the number of active entitlements.
func (s *Store) CountActive() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entitlements WHERE active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active entitlements: %w", err)
	}
	return n, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(s scanner) (*Entitlement, error) {
	var e Entitlement
	var tier, country string
	var active int
	var createdAt int64

	err := s.Scan(&e.ID, &e.Email, &e.UserID, &tier, &country, &active, &createdAt, &e.PaymentRef, &e.Metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}

	e.Tier = Tier(tier)
	e.Country = Country(country)
	e.Active = active != 0
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &e, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
