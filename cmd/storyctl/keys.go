package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dailystory/internal/infra"
	"dailystory/internal/infra/credentials"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage text generation key pools stored in Postgres",
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> <key1,key2,...>",
	Short: "Replace the stored key pool of a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProvider(args[0])
		if err != nil {
			return err
		}
		var keys []string
		for _, k := range strings.Split(args[1], ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return fmt.Errorf("at least one key is required")
		}
		return withKeyStore(cmd.Context(), func(ctx context.Context, s *credentials.Store) error {
			if err := s.SetKeys(ctx, provider, keys); err != nil {
				return fmt.Errorf("persist %s keys: %w", provider, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d %s key(s)\n", len(keys), provider)
			return nil
		})
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show <provider>",
	Short: "Print the stored key pool of a provider, masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProvider(args[0])
		if err != nil {
			return err
		}
		return withKeyStore(cmd.Context(), func(ctx context.Context, s *credentials.Store) error {
			keys, err := s.Keys(ctx, provider)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s keys stored\n", provider)
				return nil
			}
			for i, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%d  %s\n", i+1, credentials.Mask(k))
			}
			return nil
		})
	},
}

func parseProvider(raw string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(raw)); p {
	case credentials.ProviderGemini, credentials.ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", raw)
	}
}

// withKeyStore needs only DATABASE_URL, so it skips the full config check.
func withKeyStore(parent context.Context, fn func(ctx context.Context, s *credentials.Store) error) error {
	_ = godotenv.Load(".env", ".env.local")
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	s := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

func init() {
	keysCmd.AddCommand(keysSetCmd, keysShowCmd)
	rootCmd.AddCommand(keysCmd)
}
