package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzhou42/volumebot/internal/config"
)

func TestWirePaperDefaults(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Exchange)
	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Notifier)
	assert.NotNil(t, deps.Server, "server enabled by default")
	assert.Nil(t, deps.SignalFeed, "signal feed disabled by default")

	book, err := deps.Exchange.FetchOrderBook(context.Background(), cfg.Exchange.Symbol, 5)
	require.NoError(t, err)
	assert.Greater(t, book.MidPrice(), 0.0, "paper book is seeded")
}

func TestWireRejectsUnknownDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Exchange.Driver = "binance"

	_, _, err := Wire(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestUnsupportedModeErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "scrape"

	a := New(&cfg, slog.New(slog.DiscardHandler))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
