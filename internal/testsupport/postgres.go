package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"coursecast/internal/adapters/config"
	"coursecast/internal/adapters/postgres"
	"coursecast/migrations"
)

// PostgresTestHelper owns a migrated connection and deletes every row written
// for the owners it handed out.
type PostgresTestHelper struct {
	client *postgres.Client
	owners []string
}

// NewPostgresTestHelper connects, applies the embedded schema and registers cleanup.
func NewPostgresTestHelper(t *testing.T, cfg config.PostgresConfig) *PostgresTestHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}
	if err := client.ApplySchema(ctx, migrations.FS, migrations.PostgresDir); err != nil {
		_ = client.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	helper := &PostgresTestHelper{client: client}
	t.Cleanup(func() {
		helper.purge()
		_ = client.Close()
	})

	return helper
}

// NewTestPostgres creates a helper from the integration environment, skipping when it is absent
func NewTestPostgres(t *testing.T) *PostgresTestHelper {
	t.Helper()
	return NewPostgresTestHelper(t, LoadDatabaseConfigsFromEnv(t).Postgres)
}

// DB returns the underlying database handle.
func (h *PostgresTestHelper) DB() *sqlx.DB {
	return h.client.DB()
}

// Owner returns a fresh owner ID whose rows are removed on cleanup
func (h *PostgresTestHelper) Owner(prefix string) string {
	id := UniqueName(prefix)
	h.owners = append(h.owners, id)
	return id
}

func (h *PostgresTestHelper) purge() {
	if len(h.owners) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, table := range []string{"cost_alerts", "cost_limits"} {
		query, args, err := sqlx.In("DELETE FROM "+table+" WHERE owner_id IN (?)", h.owners)
		if err != nil {
			continue
		}
		_, _ = h.client.DB().ExecContext(ctx, h.client.DB().Rebind(query), args...)
	}
}
