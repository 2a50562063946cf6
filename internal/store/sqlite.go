// ABOUTME: SQLite implementation of Store using modernc.org/sqlite (pure Go, no cgo).
// ABOUTME: Schema is versioned through schema_migrations; agents/capabilities/audit_log/operators/webauthn_credentials hold the data.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on top of a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path, creating parent
// directories and the schema as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// migrations, applied in order, each recorded by version in
// schema_migrations so a given database only ever runs the ones it hasn't
// seen yet.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id          TEXT PRIMARY KEY,
		did               TEXT NOT NULL UNIQUE,
		public_key_wire   BLOB NOT NULL,
		agent_type        TEXT NOT NULL,
		interaction_modes TEXT NOT NULL DEFAULT '[]',
		organization_id   TEXT,
		payment_address   TEXT,
		owner_id          TEXT,
		custom_json       TEXT,
		registered_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_org ON agents(organization_id);

	CREATE TABLE IF NOT EXISTS capabilities (
		agent_id      TEXT NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL,
		input_schema  TEXT,
		output_schema TEXT,
		metadata_json TEXT,
		PRIMARY KEY (agent_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_capabilities_name ON capabilities(name);

	CREATE TABLE IF NOT EXISTS audit_log (
		id     TEXT PRIMARY KEY,
		ts     DATETIME NOT NULL,
		actor  TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);`,
	`CREATE TABLE IF NOT EXISTS operators (
		id           TEXT PRIMARY KEY,
		username     TEXT NOT NULL UNIQUE,
		display_name TEXT,
		created_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webauthn_credentials (
		id               TEXT PRIMARY KEY,
		operator_id      TEXT NOT NULL REFERENCES operators(id) ON DELETE CASCADE,
		credential_id    BLOB NOT NULL UNIQUE,
		public_key       BLOB NOT NULL,
		attestation_type TEXT,
		transports       TEXT,
		sign_count       INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webauthn_operator ON webauthn_credentials(operator_id);`,
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at DATETIME NOT NULL)`); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return err
	}

	for version := current + 1; version <= len(migrations); version++ {
		stmt := migrations[version-1]
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().UTC()); err != nil {
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		s.logger.Info("applied schema migration", "version", version)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}

// SaveRegistration upserts an agent record and replaces its full set of
// capability rows, inside one transaction.
func (s *SQLiteStore) SaveRegistration(ctx context.Context, rec AgentRecord, caps []CapabilityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	modes := strings.Join(rec.InteractionModes, ",")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (agent_id, did, public_key_wire, agent_type, interaction_modes, organization_id, payment_address, owner_id, custom_json, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			did=excluded.did, public_key_wire=excluded.public_key_wire, agent_type=excluded.agent_type,
			interaction_modes=excluded.interaction_modes, organization_id=excluded.organization_id,
			payment_address=excluded.payment_address, owner_id=excluded.owner_id,
			custom_json=excluded.custom_json, registered_at=excluded.registered_at
	`, rec.AgentID, rec.DID, rec.PublicKeyWire, rec.AgentType, modes, rec.OrganizationID, rec.PaymentAddress, rec.OwnerID, string(rec.CustomJSON), rec.RegisteredAt)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM capabilities WHERE agent_id = ?`, rec.AgentID); err != nil {
		return fmt.Errorf("clearing capabilities: %w", err)
	}
	for _, c := range caps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO capabilities (agent_id, name, description, input_schema, output_schema, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.AgentID, c.Name, c.Description, string(c.InputSchema), string(c.OutputSchema), string(c.MetadataJSON))
		if err != nil {
			return fmt.Errorf("inserting capability %q: %w", c.Name, err)
		}
	}

	return tx.Commit()
}

// DeleteRegistration removes an agent and (via foreign key cascade) its
// capability rows. Idempotent: deleting an unknown id is not an error.
func (s *SQLiteStore) DeleteRegistration(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	return err
}

// ListRegistrations returns every persisted agent record.
func (s *SQLiteStore) ListRegistrations(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, did, public_key_wire, agent_type, interaction_modes, organization_id, payment_address, owner_id, custom_json, registered_at
		FROM agents
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		var rec AgentRecord
		var modes, custom sql.NullString
		if err := rows.Scan(&rec.AgentID, &rec.DID, &rec.PublicKeyWire, &rec.AgentType, &modes, &rec.OrganizationID, &rec.PaymentAddress, &rec.OwnerID, &custom, &rec.RegisteredAt); err != nil {
			return nil, err
		}
		if modes.Valid && modes.String != "" {
			rec.InteractionModes = strings.Split(modes.String, ",")
		}
		if custom.Valid {
			rec.CustomJSON = []byte(custom.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListCapabilities returns the persisted capabilities for agentID.
func (s *SQLiteStore) ListCapabilities(ctx context.Context, agentID string) ([]CapabilityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, name, description, input_schema, output_schema, metadata_json
		FROM capabilities WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CapabilityRecord
	for rows.Next() {
		var c CapabilityRecord
		var input, output, meta sql.NullString
		if err := rows.Scan(&c.AgentID, &c.Name, &c.Description, &input, &output, &meta); err != nil {
			return nil, err
		}
		c.InputSchema = []byte(input.String)
		c.OutputSchema = []byte(output.String)
		c.MetadataJSON = []byte(meta.String)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendAudit inserts one audit event, generating an id if the caller left
// it blank.
func (s *SQLiteStore) AppendAudit(ctx context.Context, ev AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor, action, target, detail) VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.TS, ev.Actor, ev.Action, ev.Target, ev.Detail)
	return err
}

// ListAudit returns audit events at or after since, newest first, capped
// at limit (0 means unlimited).
func (s *SQLiteStore) ListAudit(ctx context.Context, since time.Time, limit int) ([]AuditEvent, error) {
	query := `SELECT id, ts, actor, action, target, detail FROM audit_log WHERE ts >= ? ORDER BY ts DESC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Actor, &ev.Action, &ev.Target, &detail); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// marshalJSON marshals v to JSON, returning nil for a nil v or on a marshal
// error. It is unexported, so only this package can call it.
func marshalJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// SaveOperator upserts an operator console account.
func (s *SQLiteStore) SaveOperator(ctx context.Context, op OperatorRecord) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, username, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username=excluded.username, display_name=excluded.display_name
	`, op.ID, op.Username, op.DisplayName, op.CreatedAt)
	return err
}

// GetOperatorByUsername looks up an operator by their login username.
func (s *SQLiteStore) GetOperatorByUsername(ctx context.Context, username string) (OperatorRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, display_name, created_at FROM operators WHERE username = ?`, username)
	var op OperatorRecord
	var display sql.NullString
	if err := row.Scan(&op.ID, &op.Username, &display, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OperatorRecord{}, ErrNotFound
		}
		return OperatorRecord{}, err
	}
	op.DisplayName = display.String
	return op, nil
}

// GetOperator looks up an operator by id.
func (s *SQLiteStore) GetOperator(ctx context.Context, id string) (OperatorRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, display_name, created_at FROM operators WHERE id = ?`, id)
	var op OperatorRecord
	var display sql.NullString
	if err := row.Scan(&op.ID, &op.Username, &display, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OperatorRecord{}, ErrNotFound
		}
		return OperatorRecord{}, err
	}
	op.DisplayName = display.String
	return op, nil
}

// SaveWebAuthnCredential inserts a newly registered passkey.
func (s *SQLiteStore) SaveWebAuthnCredential(ctx context.Context, cred WebAuthnCredentialRecord) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webauthn_credentials (id, operator_id, credential_id, public_key, attestation_type, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cred.ID, cred.OperatorID, cred.CredentialID, cred.PublicKey, cred.AttestationType, cred.Transports, cred.SignCount, cred.CreatedAt)
	return err
}

// ListWebAuthnCredentialsByOperator returns every passkey an operator has registered.
func (s *SQLiteStore) ListWebAuthnCredentialsByOperator(ctx context.Context, operatorID string) ([]WebAuthnCredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operator_id, credential_id, public_key, attestation_type, transports, sign_count, created_at
		FROM webauthn_credentials WHERE operator_id = ?
	`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebAuthnCredentialRecord
	for rows.Next() {
		var c WebAuthnCredentialRecord
		var attestation, transports sql.NullString
		if err := rows.Scan(&c.ID, &c.OperatorID, &c.CredentialID, &c.PublicKey, &attestation, &transports, &c.SignCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.AttestationType = attestation.String
		c.Transports = transports.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetWebAuthnCredentialByCredentialID looks up a passkey by its raw credential id, used during login.
func (s *SQLiteStore) GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (WebAuthnCredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, operator_id, credential_id, public_key, attestation_type, transports, sign_count, created_at
		FROM webauthn_credentials WHERE credential_id = ?
	`, credentialID)
	var c WebAuthnCredentialRecord
	var attestation, transports sql.NullString
	if err := row.Scan(&c.ID, &c.OperatorID, &c.CredentialID, &c.PublicKey, &attestation, &transports, &c.SignCount, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WebAuthnCredentialRecord{}, ErrNotFound
		}
		return WebAuthnCredentialRecord{}, err
	}
	c.AttestationType = attestation.String
	c.Transports = transports.String
	return c, nil
}

// UpdateWebAuthnCredentialSignCount records the authenticator's latest signature counter, used to detect cloned credentials.
func (s *SQLiteStore) UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webauthn_credentials SET sign_count = ? WHERE id = ?`, signCount, id)
	return err
}
