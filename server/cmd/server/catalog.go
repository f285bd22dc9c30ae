package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/alertd/server/internal/config"
	"github.com/obsidianstack/alertd/server/internal/store"
)

// syncCatalog makes the store's rules and notification configs match cfg.
// Rules no longer listed are disabled, not deleted, so their alert history
// keeps its rule reference.
func syncCatalog(ctx context.Context, st store.Store, cfg *config.Config) error {
	var errs []error

	keep := make([]string, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		// A rule that fails to load keeps its stored version running.
		keep = append(keep, rc.ID)
		rule, err := rc.Rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rc.ID, err))
			continue
		}
		if err := st.UpsertRule(ctx, rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.ID, err))
		}
	}
	disabled, err := st.DisableMissingRules(ctx, keep)
	if err != nil {
		errs = append(errs, fmt.Errorf("disable missing rules: %w", err))
	}

	for _, uc := range cfg.Users {
		nc, err := uc.NotificationConfig()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := st.UpsertNotificationConfig(ctx, nc); err != nil {
			errs = append(errs, fmt.Errorf("user %q: %w", uc.ID, err))
		}
	}

	slog.Info("catalog synced",
		"rules", len(keep),
		"rules_disabled", disabled,
		"users", len(cfg.Users),
	)
	return errors.Join(errs...)
}

// openStore opens the configured storage driver.
func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
