package app

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/toivape/nauction/internal/memstore"
	"github.com/toivape/nauction/shared/logging"
)

func TestOpenStore_Memory(t *testing.T) {
	st, closeFn, err := OpenStore(context.Background(), StoreConfig{Driver: DriverMemory}, logging.Discard())

	assert.NoError(t, err)
	_, ok := st.(*memstore.Store)
	check.True(t, ok)
	check.NoError(t, closeFn())
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), StoreConfig{Driver: "sqlite"}, logging.Discard())

	check.Error(t, err)
}

func TestLoadLocation(t *testing.T) {
	t.Setenv("TIMEZONE", "Europe/Helsinki")
	loc, err := LoadLocation()
	assert.NoError(t, err)
	check.Equal(t, "Europe/Helsinki", loc.String())

	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = LoadLocation()
	check.Error(t, err)
}

func TestLoadStoreConfig(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POSTGRES_URL", "postgres://x")

	cfg := LoadStoreConfig()

	check.Equal(t, DriverMemory, cfg.Driver)
	check.Equal(t, "postgres://x", cfg.PostgresURL)
}
