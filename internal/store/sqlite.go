package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hotel7days/concierge/backend/internal/model/chat"
	_ "modernc.org/sqlite"
)

const appendShards = 64

// SQLiteStore implements Store on SQLite so transcripts survive restarts.
type SQLiteStore struct {
	db *sql.DB
	// Append locks sharded by session id: sequence assignment must be
	// serialized per session, unrelated sessions stay parallel.
	appendMu [appendShards]sync.Mutex
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during appends. The _pragma form is
	// applied to every pooled connection, not just the first one.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		client_lang TEXT NOT NULL DEFAULT '',
		client_identifier TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'OPEN',
		assigned_staff_id TEXT NOT NULL DEFAULT '',
		bot_enabled INTEGER NOT NULL DEFAULT 1,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		membership_level TEXT NOT NULL DEFAULT '',
		booking_status TEXT NOT NULL DEFAULT '',
		booking_code TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_message_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS messages (
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		seq INTEGER NOT NULL,
		sender TEXT NOT NULL,
		original_text TEXT NOT NULL,
		translated_text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const sessionColumns = `id, code, client_lang, client_identifier, status, assigned_staff_id,
	bot_enabled, customer_name, customer_email, membership_level, booking_status, booking_code,
	created_at, last_message_at`

func scanSession(row interface{ Scan(...any) error }) (chat.Session, error) {
	var (
		sess          chat.Session
		botEnabled    int
		createdAt     int64
		lastMessageAt sql.NullInt64
	)
	err := row.Scan(
		&sess.ID, &sess.Code, &sess.ClientLang, &sess.ClientIdentifier, &sess.Status,
		&sess.AssignedStaffID, &botEnabled,
		&sess.Profile.CustomerName, &sess.Profile.CustomerEmail, &sess.Profile.MembershipLevel,
		&sess.Profile.BookingStatus, &sess.Profile.BookingCode,
		&createdAt, &lastMessageAt,
	)
	if err != nil {
		return chat.Session{}, err
	}
	sess.BotEnabled = botEnabled != 0
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastMessageAt.Valid {
		t := time.UnixMilli(lastMessageAt.Int64).UTC()
		sess.LastMessageAt = &t
	}
	return sess, nil
}

func (s *SQLiteStore) ResolveOrCreate(ctx context.Context, code, clientLang, clientIdentifier string, profile chat.Profile) (chat.Session, bool, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return chat.Session{}, false, err
	}

	// The UNIQUE constraint on code makes concurrent creation race-free:
	// exactly one INSERT wins, everyone re-reads the same row.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (code, client_lang, client_identifier,
			customer_name, customer_email, membership_level, booking_status, booking_code,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING`,
		code, clientLang, clientIdentifier,
		profile.CustomerName, profile.CustomerEmail, profile.MembershipLevel,
		profile.BookingStatus, profile.BookingCode,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("create session: %w", err)
	}

	sess, err := s.GetByCode(ctx, code)
	if err != nil {
		return chat.Session{}, false, err
	}
	return sess, inserted > 0, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetByCode(ctx context.Context, code string) (chat.Session, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return chat.Session{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE code = ?`, code)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session by code: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListOpen(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY id`, chat.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	open := make([]chat.Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		open = append(open, sess)
	}
	return open, rows.Err()
}

func (s *SQLiteStore) CloseSession(ctx context.Context, id int64) (chat.Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		chat.StatusClosed, id, chat.StatusOpen)
	if err != nil {
		return chat.Session{}, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chat.Session{}, fmt.Errorf("close session: %w", err)
	}

	sess, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return chat.Session{}, getErr
	}
	if n == 0 {
		return sess, ErrAlreadyClosed
	}
	return sess, nil
}

func (s *SQLiteStore) AssignStaff(ctx context.Context, id int64, staffID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET assigned_staff_id = ? WHERE id = ?`, staffID, id)
	if err != nil {
		return fmt.Errorf("assign staff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign staff: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID int64, sender chat.Sender, text string) (chat.Message, error) {
	return s.append(ctx, sessionID, sender, text, false)
}

func (s *SQLiteStore) AppendNotice(ctx context.Context, sessionID int64, text string) (chat.Message, error) {
	return s.append(ctx, sessionID, chat.SenderStaff, text, true)
}

func (s *SQLiteStore) append(ctx context.Context, sessionID int64, sender chat.Sender, text string, notice bool) (chat.Message, error) {
	mu := &s.appendMu[sessionID%appendShards]
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var status chat.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("append: %w", err)
	}
	if status == chat.StatusClosed && !notice {
		return chat.Message{}, ErrSessionClosed
	}

	var seq int64
	var lastAt sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), MAX(created_at) FROM messages WHERE session_id = ?`,
		sessionID).Scan(&seq, &lastAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	if lastAt.Valid && now < lastAt.Int64 {
		now = lastAt.Int64
	}

	msg := chat.Message{
		ID:           seq + 1,
		SessionID:    sessionID,
		Sender:       sender,
		OriginalText: text,
		CreatedAt:    time.UnixMilli(now).UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, sender, original_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.ID, msg.Sender, msg.OriginalText, now); err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_message_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return chat.Message{}, fmt.Errorf("append: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) History(ctx context.Context, sessionID int64, limit int) ([]chat.Message, error) {
	if _, err := s.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT session_id, seq, sender, original_text, translated_text, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		// Most recent suffix, returned oldest first.
		query = `SELECT session_id, seq, sender, original_text, translated_text, created_at FROM (
			SELECT session_id, seq, sender, original_text, translated_text, created_at
			FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0, 32)
	for rows.Next() {
		var msg chat.Message
		var createdAt int64
		if err := rows.Scan(&msg.SessionID, &msg.ID, &msg.Sender, &msg.OriginalText, &msg.TranslatedText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetTranslated(ctx context.Context, sessionID, messageID int64, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET translated_text = ? WHERE session_id = ? AND seq = ?`,
		text, sessionID, messageID)
	if err != nil {
		return fmt.Errorf("set translation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set translation: %w", err)
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, sessionID); err != nil {
			return err
		}
		return ErrMessageNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
