package app

import (
	"context"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitRuntimeDependencies_Drivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       func(t *testing.T) Config
		wantClose bool
	}{
		{name: "memory", cfg: func(*testing.T) Config { return Config{StorageDriver: StorageDriverMemory} }},
		{name: "empty driver means memory", cfg: func(*testing.T) Config { return Config{} }},
		{name: "sqlite", wantClose: true, cfg: func(t *testing.T) Config {
			return Config{StorageDriver: " SQLite ", SQLitePath: filepath.Join(t.TempDir(), "flashsale.db")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps, err := initRuntimeDependencies(context.Background(), tt.cfg(t), log.WithField("test", tt.name))
			require.NoError(t, err)
			if deps.closeFn != nil {
				t.Cleanup(func() { _ = deps.closeFn() })
			}
			require.Equal(t, tt.wantClose, deps.closeFn != nil)
			requireStorageWired(t, deps)
		})
	}
}

func TestInitRuntimeDependencies_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]Config{
		"postgres without dsn": {StorageDriver: StorageDriverPostgres},
		"sqlite without path":  {StorageDriver: StorageDriverSQLite, SQLitePath: "  "},
		"unsupported driver":   {StorageDriver: "invalid-driver"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", name))
			require.Error(t, err)
		})
	}
}
