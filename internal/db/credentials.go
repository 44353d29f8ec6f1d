package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialStore holds sealed provider keys; it never sees plaintext.
type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

func (s *CredentialStore) Put(ctx context.Context, provider string, sealed []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_credentials (provider, sealed, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (provider) DO UPDATE SET sealed = EXCLUDED.sealed, updated_at = NOW()
	`, provider, sealed)
	return err
}

func (s *CredentialStore) Get(ctx context.Context, provider string) ([]byte, bool, error) {
	var sealed []byte
	err := s.pool.QueryRow(ctx, "SELECT sealed FROM provider_credentials WHERE provider = $1", provider).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sealed, true, nil
}

func (s *CredentialStore) Delete(ctx context.Context, provider string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM provider_credentials WHERE provider = $1", provider)
	return err
}
