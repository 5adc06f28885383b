package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"accord/api/internal/record"
	"accord/api/internal/util"
)

var ErrRecordExists = errors.New("record already published")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PublishRecord assigns a record id if the caller left it empty, appends the
// record, and returns it with its id filled in. Records are insert-only; the
// table has a trigger rejecting UPDATE and DELETE, so a failed publish
// leaves nothing behind.
func (s *PostgresStore) PublishRecord(ctx context.Context, rec record.Record) (record.Record, error) {
	if rec.RecordID == "" {
		rec.RecordID = util.NewID("rec")
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return record.Record{}, fmt.Errorf("marshal payload: %w", err)
	}
	required, err := json.Marshal(rec.RequiredSigners)
	if err != nil {
		return record.Record{}, fmt.Errorf("marshal required signers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (record_id, correlation_tag, author_id, published_at, required_signers, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.RecordID, rec.CorrelationTag, rec.AuthorID, rec.PublishedAt, required, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return record.Record{}, ErrRecordExists
		}
		return record.Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// ListRecordsByTag returns every known record for one lineage, in no
// particular order; callers reduce the set themselves.
func (s *PostgresStore) ListRecordsByTag(ctx context.Context, tag string) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, correlation_tag, author_id, published_at, required_signers, payload
		FROM records
		WHERE correlation_tag = $1
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]record.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, recordID string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, correlation_tag, author_id, published_at, required_signers, payload
		FROM records
		WHERE record_id = $1
	`, recordID)
	return scanRecord(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.Record, error) {
	var rec record.Record
	var required, payload []byte
	if err := row.Scan(&rec.RecordID, &rec.CorrelationTag, &rec.AuthorID, &rec.PublishedAt, &required, &payload); err != nil {
		return record.Record{}, err
	}
	if err := json.Unmarshal(required, &rec.RequiredSigners); err != nil {
		return record.Record{}, fmt.Errorf("decode required signers for %s: %w", rec.RecordID, err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return record.Record{}, fmt.Errorf("decode payload for %s: %w", rec.RecordID, err)
	}
	return rec, nil
}

// ListLineages summarizes every known correlation tag: record count, the
// most recent publish time, and the title carried by the newest record.
func (s *PostgresStore) ListLineages(ctx context.Context) ([]Lineage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (correlation_tag)
			correlation_tag,
			payload->>'title',
			COUNT(*) OVER (PARTITION BY correlation_tag),
			MAX(published_at) OVER (PARTITION BY correlation_tag),
			FIRST_VALUE(author_id) OVER (PARTITION BY correlation_tag ORDER BY published_at ASC, record_id ASC)
		FROM records
		ORDER BY correlation_tag, published_at DESC, record_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list lineages: %w", err)
	}
	defer rows.Close()

	items := make([]Lineage, 0)
	for rows.Next() {
		var item Lineage
		var lastPublished int64
		if err := rows.Scan(&item.CorrelationTag, &item.Title, &item.RecordCount, &lastPublished, &item.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan lineage: %w", err)
		}
		item.LastPublished = time.Unix(lastPublished, 0).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateParty(ctx context.Context, party Party) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, display_name, email, password_hash, pubkey, sealed_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, party.ID, party.DisplayName, party.Email, party.PasswordHash, party.PubKey, party.SealedKey)
	if err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPartyByEmail(ctx context.Context, email string) (Party, error) {
	return s.getParty(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) GetPartyByID(ctx context.Context, id string) (Party, error) {
	return s.getParty(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetPartyByPubKey(ctx context.Context, pubkey string) (Party, error) {
	return s.getParty(ctx, `WHERE pubkey = $1`, pubkey)
}

func (s *PostgresStore) getParty(ctx context.Context, where string, arg any) (Party, error) {
	query := `SELECT id, display_name, email, password_hash, pubkey, sealed_key, created_at FROM parties ` + where
	var party Party
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&party.ID, &party.DisplayName, &party.Email, &party.PasswordHash,
		&party.PubKey, &party.SealedKey, &party.CreatedAt,
	)
	if err != nil {
		return Party{}, err
	}
	return party, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, partyID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, party_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET party_id=EXCLUDED.party_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, partyID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Party, error) {
	const query = `
		SELECT p.id, p.display_name, p.email, p.password_hash, p.pubkey, p.sealed_key, p.created_at
		FROM refresh_sessions rs
		JOIN parties p ON p.id = rs.party_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var party Party
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&party.ID, &party.DisplayName, &party.Email, &party.PasswordHash,
		&party.PubKey, &party.SealedKey, &party.CreatedAt,
	)
	if err != nil {
		return Party{}, err
	}
	return party, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
