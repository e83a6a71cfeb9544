// Package store implements the encrypted-at-rest message log of §4.G:
// a transactional relational store over modernc.org/sqlite with WAL
// journaling, a log key derived once per vault open, idempotent
// inserts, and path-traversal-safe file attachment storage. Its
// conventions (explicit schema migration, busy timeout via a pragma,
// one *sql.DB shared by readers and writers) follow the
// modernc.org/sqlite driver's documented usage; each message row holds
// AEAD-sealed ciphertext under a log key derived with HKDF-SHA256.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/duskline/p2pmsg/crypto"
	"github.com/duskline/p2pmsg/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	peer_fingerprint TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	direction TEXT NOT NULL CHECK (direction IN ('sent','received')),
	kind TEXT NOT NULL CHECK (kind IN ('text','file')),
	ciphertext BLOB NOT NULL,
	nonce BLOB NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL,
	UNIQUE (conversation_id, direction, timestamp, nonce)
);

CREATE TABLE IF NOT EXISTS contact_keys (
	fingerprint TEXT PRIMARY KEY,
	identity_public_key BLOB NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	verified_flag INTEGER NOT NULL DEFAULT 0,
	trust_level INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS local_keys (
	key_type TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	peer_fingerprint TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('initiator','responder')),
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);
`

// Direction of a stored message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Kind of a stored message.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Message is one row of the conversation log, plaintext as seen by callers.
type Message struct {
	ID        int64
	Direction Direction
	Kind      Kind
	Body      []byte
	FileName  string
	FileSize  int64
	Timestamp time.Time
}

// Store owns the single *sql.DB handle shared by the reader and writer
// paths (§5 "one log-database handle ... open at once").
type Store struct {
	db     *sql.DB
	logKey [32]byte
}

// Open opens (creating if necessary) the SQLite-backed log at path,
// enables WAL journaling and a busy timeout, and derives the log key
// from the identity's private signature key bytes. identityPrivBytes
// is zeroized by the caller; Open only reads it for the derivation.
func Open(ctx context.Context, path string, identityPrivBytes []byte) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000;"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}

	logKeyBytes, err := crypto.HKDF(identityPrivBytes, []byte("log-salt-v1"), []byte("msg-log"), 32)
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	var logKey [32]byte
	copy(logKey[:], logKeyBytes)
	crypto.Zeroize(logKeyBytes)

	return &Store{db: db, logKey: logKey}, nil
}

// Close releases the database handle and zeroizes the log key.
func (s *Store) Close() error {
	crypto.Zeroize(s.logKey[:])
	return s.db.Close()
}

// ConversationID returns the conversation row id for a peer
// fingerprint, creating it if this is the first contact.
func (s *Store) ConversationID(ctx context.Context, peerFingerprint string, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE peer_fingerprint = ?`, peerFingerprint).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO conversations (peer_fingerprint, created_at) VALUES (?, ?)`, peerFingerprint, now.UnixMilli())
	if err != nil {
		return 0, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return res.LastInsertId()
}

// AppendMessage seals plaintext under the log key and inserts it,
// idempotently on (conversation_id, direction, timestamp, nonce).
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, dir Direction, kind Kind, plaintext []byte, fileName string, fileSize int64, ts time.Time) error {
	nonce, err := crypto.Random(12)
	if err != nil {
		return errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	aad := []byte(fmt.Sprintf("p2pmsg-log-v1:%d:%s", conversationID, dir))
	ciphertext, err := crypto.AEADSeal(s.logKey[:], nonce, aad, plaintext)
	if err != nil {
		return errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(conversation_id, direction, kind, ciphertext, nonce, file_name, file_size, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, string(dir), string(kind), ciphertext, nonce, fileName, fileSize, ts.UnixMilli())
	if err != nil {
		return errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return nil
}

// History returns up to limit messages for a conversation, most recent
// first, skipping offset rows.
func (s *Store) History(ctx context.Context, peerFingerprint string, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.direction, m.kind, m.ciphertext, m.nonce, m.file_name, m.file_size, m.timestamp
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.peer_fingerprint = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ? OFFSET ?`, peerFingerprint, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                    Message
			dir, kind            string
			ciphertext, nonce    []byte
			tsMillis             int64
		)
		if err := rows.Scan(&m.ID, &dir, &kind, &ciphertext, &nonce, &m.FileName, &m.FileSize, &tsMillis); err != nil {
			return nil, errs.Wrap(errs.PathStore, errs.CodeCorruptRow, err)
		}
		m.Direction = Direction(dir)
		m.Kind = Kind(kind)
		m.Timestamp = time.UnixMilli(tsMillis).UTC()

		convID, err := s.conversationIDFor(ctx, peerFingerprint)
		if err != nil {
			return nil, err
		}
		aad := []byte(fmt.Sprintf("p2pmsg-log-v1:%d:%s", convID, dir))
		pt, err := crypto.AEADOpen(s.logKey[:], nonce, aad, ciphertext)
		if err != nil {
			return nil, errs.Wrap(errs.PathStore, errs.CodeCorruptRow, err)
		}
		m.Body = pt
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return out, nil
}

func (s *Store) conversationIDFor(ctx context.Context, peerFingerprint string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE peer_fingerprint = ?`, peerFingerprint).Scan(&id)
	if err != nil {
		return 0, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return id, nil
}

// UpsertContact records or updates a peer's pinned identity key (§3 Peer record).
func (s *Store) UpsertContact(ctx context.Context, fingerprint string, identityPub []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_keys (fingerprint, identity_public_key, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET last_seen = excluded.last_seen`,
		fingerprint, identityPub, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return nil
}

// LookupContact returns the pinned identity public key for a fingerprint.
func (s *Store) LookupContact(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	var pub []byte
	err := s.db.QueryRowContext(ctx, `SELECT identity_public_key FROM contact_keys WHERE fingerprint = ?`, fingerprint).Scan(&pub)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return pub, true, nil
}

// SetVerified toggles the user-confirmed verified_flag for a contact (§3).
func (s *Store) SetVerified(ctx context.Context, fingerprint string, verified bool) error {
	v := 0
	if verified {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE contact_keys SET verified_flag = ? WHERE fingerprint = ?`, v, fingerprint)
	if err != nil {
		return errs.Wrap(errs.PathStore, errs.CodeStorageIOError, err)
	}
	return nil
}

// SanitizeAttachmentPath resolves a logical file name into a path
// under root/peerFingerprint, rejecting anything that would escape
// that directory (§4.G path traversal prevention).
func SanitizeAttachmentPath(root, peerFingerprint, name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == "" {
		return "", errs.New(errs.PathStore, errs.CodeInvalidFilename)
	}
	peerDir := filepath.Join(root, filepath.Base(peerFingerprint))
	full := filepath.Join(peerDir, base)
	rel, err := filepath.Rel(peerDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errs.New(errs.PathStore, errs.CodeInvalidFilename)
	}
	return full, nil
}
