// Package store manages the SQLite database that holds the local bookings and
// the per-user Google Calendar tokens.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
    id               TEXT    PRIMARY KEY,
    user_id          TEXT    NOT NULL,
    summary          TEXT    NOT NULL,
    description      TEXT    NOT NULL DEFAULT '',
    start_date_time  TEXT    NOT NULL,
    end_date_time    TEXT    NOT NULL,
    status           TEXT    NOT NULL,
    event_id         TEXT    NOT NULL DEFAULT '',
    date             TEXT    NOT NULL,
    last_synced_date TEXT    NOT NULL DEFAULT '',
    updated_at       TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings (user_id, status);

CREATE TABLE IF NOT EXISTS tokens (
    user_id       TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    token_type    TEXT NOT NULL DEFAULT '',
    expiry        TEXT NOT NULL DEFAULT '',
    updated_at    TEXT NOT NULL DEFAULT ''
);
`

const bookingColumns = `id, user_id, summary, description, start_date_time, end_date_time,
		       status, event_id, date, last_synced_date`

// Store is the SQLite-backed booking repository and token store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/bookingsync/bookings.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "bookingsync", "bookings.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Bookings ----------------------------------------------------------------

// BookingsForUser returns the user's active bookings in insertion order.
// Canceled bookings are excluded so that their calendar events are treated as
// orphans by the reconciler.
func (s *Store) BookingsForUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	q := `SELECT ` + bookingColumns + `
		FROM bookings WHERE user_id = ? AND status != ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, q, userID, string(model.StatusCanceled))
	if err != nil {
		return nil, fmt.Errorf("querying bookings for user %q: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetBooking returns the booking with the given ID, or (nil, nil) if it does
// not exist.
func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return b, err
}

// UpsertBooking validates and stores a booking written by the front end. An
// empty ID is replaced with a fresh UUID. The sync fields (EventID and
// LastSyncedDate) are owned by the reconciler and are preserved on update.
func (s *Store) UpsertBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := b.Validate(); err != nil {
		return err
	}

	const q = `
		INSERT INTO bookings
		    (id, user_id, summary, description, start_date_time, end_date_time,
		     status, event_id, date, last_synced_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    user_id         = excluded.user_id,
		    summary         = excluded.summary,
		    description     = excluded.description,
		    start_date_time = excluded.start_date_time,
		    end_date_time   = excluded.end_date_time,
		    status          = excluded.status,
		    date            = excluded.date,
		    updated_at      = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		b.ID,
		b.UserID,
		b.Summary,
		b.Description,
		b.StartDateTime,
		b.EndDateTime,
		string(b.Status),
		b.EventID,
		b.Date,
		b.LastSyncedDate,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upserting booking %q: %w", b.ID, err)
	}
	return nil
}

// MarkSynced records that the booking was pushed to the remote event eventID
// while its change token was syncedDate.
func (s *Store) MarkSynced(ctx context.Context, bookingID, eventID, syncedDate string) error {
	const q = `UPDATE bookings SET event_id = ?, last_synced_date = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, eventID, syncedDate, bookingID)
	if err != nil {
		return fmt.Errorf("marking booking %q synced: %w", bookingID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("marking booking %q synced: booking no longer exists", bookingID)
	}
	return nil
}

// --- Tokens ------------------------------------------------------------------

// Token returns the stored OAuth token for userID, or (nil, nil) if the user
// never connected a calendar.
func (s *Store) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	const q = `SELECT access_token, refresh_token, token_type, expiry FROM tokens WHERE user_id = ?`
	var tok oauth2.Token
	var expiry string
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("reading token for user %q: %w", userID, err)
	}
	if tok.Expiry, err = parseTime(expiry); err != nil {
		return nil, fmt.Errorf("parsing token expiry for user %q: %w", userID, err)
	}
	return &tok, nil
}

// SaveToken stores or replaces the OAuth token for userID.
func (s *Store) SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("saving token for user %q: access token is empty", userID)
	}
	const q = `
		INSERT INTO tokens (user_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    access_token  = excluded.access_token,
		    refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE tokens.refresh_token END,
		    token_type    = excluded.token_type,
		    expiry        = excluded.expiry,
		    updated_at    = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		userID,
		tok.AccessToken,
		tok.RefreshToken,
		tok.TokenType,
		formatTime(tok.Expiry),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("saving token for user %q: %w", userID, err)
	}
	return nil
}

// Users returns the IDs of all users with a stored token, sorted.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM tokens ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// Stats reports row counts for the status command.
func (s *Store) Stats(ctx context.Context) (bookings, unsynced, users int, err error) {
	const q = `
		SELECT
		    (SELECT COUNT(*) FROM bookings WHERE status != ?),
		    (SELECT COUNT(*) FROM bookings WHERE status != ? AND (event_id = '' OR date != last_synced_date)),
		    (SELECT COUNT(*) FROM tokens)`
	canceled := string(model.StatusCanceled)
	err = s.db.QueryRowContext(ctx, q, canceled, canceled).Scan(&bookings, &unsynced, &users)
	if err != nil {
		err = fmt.Errorf("counting rows: %w", err)
	}
	return bookings, unsynced, users, err
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanBooking can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(s scanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	err := s.Scan(
		&b.ID,
		&b.UserID,
		&b.Summary,
		&b.Description,
		&b.StartDateTime,
		&b.EndDateTime,
		&status,
		&b.EventID,
		&b.Date,
		&b.LastSyncedDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning booking row: %w", err)
	}
	b.Status = model.Status(status)
	return &b, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
