package devices

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	// MaxPerType is the concurrent device cap per class: 2 phones and 2
	// computers, 4 devices total.
	MaxPerType = 2

	// InactivityExpiry is how long an idle device holds its quota slot before
	// the cleanup sweep frees it.
	InactivityExpiry = 30 * 24 * time.Hour

	// ReasonDeviceLimitExceeded is the structured rejection reason returned
	// when an account already has MaxPerType active devices of a class.
	ReasonDeviceLimitExceeded = "device_limit_exceeded"

	storeCleanupInterval = 1 * time.Hour
)

// CheckResult is the outcome of a device registration attempt.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Counts reports active devices per class and the remaining quota.
type Counts struct {
	Phones             int `json:"phones"`
	Computers          int `json:"computers"`
	PhonesRemaining    int `json:"phones_remaining"`
	ComputersRemaining int `json:"computers_remaining"`
	MaxPhones          int `json:"max_phones"`
	MaxComputers       int `json:"max_computers"`
	MaxTotal           int `json:"max_total"`
}

// Store persists device records and per-class sessions in SQLite.
//
// Registration and single-session enforcement run in one transaction:
// admitting a device atomically invalidates prior sessions of the same device
// class, so two racing registrations cannot both end up with live sessions.
type Store struct {
	db          *sql.DB
	stopCleanup chan struct{}
	mu          sync.Mutex
}

// NewStore opens (or creates) the device database in dir and starts the
// inactivity sweep.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "devices.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open device db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:          db,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	go s.cleanupLoop()
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		user_key    TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		device_type TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		first_seen  INTEGER NOT NULL,
		last_seen   INTEGER NOT NULL,
		PRIMARY KEY (user_key, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_devices_user_type ON devices(user_key, device_type, active);

	CREATE TABLE IF NOT EXISTS device_sessions (
		session_id  TEXT PRIMARY KEY,
		user_key    TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		device_type TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_sessions_user_type ON device_sessions(user_key, device_type, active);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init device schema: %w", err)
	}
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.ExpireInactive(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to expire inactive devices")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close stops the cleanup sweep and closes the database.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close device store database")
		}
		s.db = nil
	}
}

// Register admits (or re-admits) a device for the given account key and,
// when a session ID is supplied, makes it the single live session of its
// device class. A previously unseen device is rejected with
// ReasonDeviceLimitExceeded once MaxPerType active devices of that class
// exist.
func (s *Store) Register(userKey, fingerprint string, deviceType DeviceType, sessionID string, now time.Time) (*CheckResult, error) {
	userKey = strings.ToLower(strings.TrimSpace(userKey))
	fingerprint = strings.TrimSpace(fingerprint)
	if userKey == "" || fingerprint == "" {
		return nil, fmt.Errorf("userKey and fingerprint are required")
	}
	if !ValidDeviceType(deviceType) {
		return nil, fmt.Errorf("invalid device type %q", deviceType)
	}
	nowUnix := now.UTC().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("store closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback device register transaction")
		}
	}()

	var existingActive sql.NullInt64
	var existingType string
	err = tx.QueryRow(`SELECT active, device_type FROM devices WHERE user_key = ? AND fingerprint = ?`,
		userKey, fingerprint).Scan(&existingActive, &existingType)
	known := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load device: %w", err)
	}

	switch {
	case known && existingActive.Int64 != 0 && DeviceType(existingType) == deviceType:
		// Already admitted: refresh last_seen only.
		if _, err := tx.Exec(`UPDATE devices SET last_seen = ? WHERE user_key = ? AND fingerprint = ?`,
			nowUnix, userKey, fingerprint); err != nil {
			return nil, fmt.Errorf("refresh device: %w", err)
		}

	case known && existingActive.Int64 != 0:
		// An active device reporting a different class must fit that class's
		// quota; the claimed type is client-supplied.
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM devices
			WHERE user_key = ? AND device_type = ? AND active = 1 AND fingerprint != ?`,
			userKey, string(deviceType), fingerprint).Scan(&count); err != nil {
			return nil, fmt.Errorf("count active devices: %w", err)
		}
		if count >= MaxPerType {
			return &CheckResult{Allowed: false, Reason: ReasonDeviceLimitExceeded}, nil
		}
		if _, err := tx.Exec(`UPDATE devices SET device_type = ?, last_seen = ? WHERE user_key = ? AND fingerprint = ?`,
			string(deviceType), nowUnix, userKey, fingerprint); err != nil {
			return nil, fmt.Errorf("reclassify device: %w", err)
		}

	default:
		// New or previously evicted device: count it against the class quota.
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM devices
			WHERE user_key = ? AND device_type = ? AND active = 1 AND fingerprint != ?`,
			userKey, string(deviceType), fingerprint).Scan(&count); err != nil {
			return nil, fmt.Errorf("count active devices: %w", err)
		}
		if count >= MaxPerType {
			return &CheckResult{Allowed: false, Reason: ReasonDeviceLimitExceeded}, nil
		}
		if known {
			if _, err := tx.Exec(`UPDATE devices SET active = 1, last_seen = ?, device_type = ? WHERE user_key = ? AND fingerprint = ?`,
				nowUnix, string(deviceType), userKey, fingerprint); err != nil {
				return nil, fmt.Errorf("reactivate device: %w", err)
			}
		} else {
			if _, err := tx.Exec(`INSERT INTO devices (user_key, fingerprint, device_type, active, first_seen, last_seen)
				VALUES (?, ?, ?, 1, ?, ?)`,
				userKey, fingerprint, string(deviceType), nowUnix, nowUnix); err != nil {
				return nil, fmt.Errorf("insert device: %w", err)
			}
		}
	}

	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		// Single-session enforcement: the new session replaces any prior live
		// session of the same device class, in the same transaction.
		if _, err := tx.Exec(`UPDATE device_sessions SET active = 0
			WHERE user_key = ? AND device_type = ? AND session_id != ? AND active = 1`,
			userKey, string(deviceType), sessionID); err != nil {
			return nil, fmt.Errorf("invalidate prior sessions: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO device_sessions
			(session_id, user_key, fingerprint, device_type, active, created_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			sessionID, userKey, fingerprint, string(deviceType), nowUnix); err != nil {
			return nil, fmt.Errorf("record session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register tx: %w", err)
	}
	return &CheckResult{Allowed: true}, nil
}

// SessionActive reports whether the given session is still the live session
// for its device class.
func (s *Store) SessionActive(sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, fmt.Errorf("store closed")
	}

	var active int
	err := s.db.QueryRow(`SELECT active FROM device_sessions WHERE session_id = ?`, sessionID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	return active != 0, nil
}

// SessionRevoked reports whether a session was registered and later pushed
// out by a newer session of the same device class. Sessions never seen by the
// store are not revoked; they simply have not been bound to a device yet.
func (s *Store) SessionRevoked(sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, fmt.Errorf("store closed")
	}

	var active int
	err := s.db.QueryRow(`SELECT active FROM device_sessions WHERE session_id = ?`, sessionID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	return active == 0, nil
}

// CountActive returns active device counts and remaining quota for userKey.
func (s *Store) CountActive(userKey string) (*Counts, error) {
	userKey = strings.ToLower(strings.TrimSpace(userKey))
	if userKey == "" {
		return nil, fmt.Errorf("userKey is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("store closed")
	}

	rows, err := s.db.Query(`SELECT device_type, COUNT(*) FROM devices
		WHERE user_key = ? AND active = 1 GROUP BY device_type`, userKey)
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	defer rows.Close()

	c := &Counts{MaxPhones: MaxPerType, MaxComputers: MaxPerType, MaxTotal: 2 * MaxPerType}
	for rows.Next() {
		var deviceType string
		var n int
		if err := rows.Scan(&deviceType, &n); err != nil {
			return nil, fmt.Errorf("scan device count: %w", err)
		}
		switch DeviceType(deviceType) {
		case DeviceTypePhone:
			c.Phones = n
		case DeviceTypeComputer:
			c.Computers = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c.PhonesRemaining = MaxPerType - c.Phones
	if c.PhonesRemaining < 0 {
		c.PhonesRemaining = 0
	}
	c.ComputersRemaining = MaxPerType - c.Computers
	if c.ComputersRemaining < 0 {
		c.ComputersRemaining = 0
	}
	return c, nil
}

// ExpireInactive frees quota slots held by devices idle longer than
// InactivityExpiry, and drops their sessions.
func (s *Store) ExpireInactive(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}

	cutoff := now.UTC().Add(-InactivityExpiry).Unix()
	if _, err := s.db.Exec(`UPDATE devices SET active = 0 WHERE active = 1 AND last_seen < ?`, cutoff); err != nil {
		return fmt.Errorf("expire inactive devices: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE device_sessions SET active = 0 WHERE active = 1 AND created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("expire stale sessions: %w", err)
	}
	return nil
}
