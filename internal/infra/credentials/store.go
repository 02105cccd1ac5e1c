package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dailystory/internal/infra"
	"dailystory/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Store persists per-provider key lists in Postgres, one comma separated row
// per provider.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the key pool table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureTextKeyPools)
	return err
}

// Keys returns the stored key list for provider, or nil when nothing is stored.
func (s *Store) Keys(ctx context.Context, provider string) ([]string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectTextKeyPool, provider)
	var joined string
	if err := row.Scan(&joined); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	keys := infra.SplitCSV(joined)
	if len(keys) == 0 {
		return nil, nil
	}
	return keys, nil
}

// SetKeys replaces the stored key list for provider.
func (s *Store) SetKeys(ctx context.Context, provider string, keys []string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return errors.New(provider + " api key list is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertTextKeyPool, provider, strings.Join(cleaned, ","), len(cleaned))
	return err
}

// ResolveKeys prefers the keys from the environment and falls back to the store.
func ResolveKeys(ctx context.Context, store *Store, provider string, fromEnv []string) ([]string, error) {
	if len(fromEnv) > 0 || store == nil {
		return fromEnv, nil
	}
	return store.Keys(ctx, provider)
}
