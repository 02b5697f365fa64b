package runtime

import (
	"context"
	"fmt"

	configpkg "github.com/drblury/adapterflow/internal/runtime/config"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/kvstore/natskv"
	pebblestore "github.com/drblury/adapterflow/kvstore/pebble"
	"github.com/drblury/adapterflow/kvstore/sqlstore"
)

// DefaultStoreTable names the SQL table or NATS bucket when
// config.StoreTable is empty.
const DefaultStoreTable = "adapterflow_kv"

// OpenStore opens the key-value store selected by conf.StoreBackend.
func OpenStore(ctx context.Context, conf *configpkg.Config) (kvstore.Store, error) {
	table := conf.StoreTable
	if table == "" {
		table = DefaultStoreTable
	}
	var (
		store kvstore.Store
		err   error
	)
	switch conf.Store() {
	case configpkg.StoreMemory:
		return kvstore.NewMemory(), nil
	case configpkg.StorePebble:
		store, err = pebblestore.Open(pebblestore.Options{DataDir: conf.PebbleDir})
	case configpkg.StoreSQLite:
		store, err = sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.SQLite, DSN: conf.SQLiteFile, Table: table})
	case configpkg.StorePostgres:
		store, err = sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.Postgres, DSN: conf.PostgresURL, Table: table})
	case configpkg.StoreNATS:
		store, err = natskv.Open(ctx, natskv.Options{URL: conf.NATSURL, Bucket: table})
	default:
		return nil, errspkg.Validation("store_backend", fmt.Sprintf("unknown store backend %q", conf.StoreBackend))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", conf.Store(), err)
	}
	return store, nil
}
