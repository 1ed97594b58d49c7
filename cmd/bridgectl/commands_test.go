package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/config"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestCLI(t *testing.T) (*cli, *bridge.MemoryStore, *syncBuffer) {
	t.Helper()
	store := bridge.NewMemoryStore()
	out := &syncBuffer{}
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Gateway.TickInterval = 10 * time.Millisecond
	return &cli{
		store:  store,
		keys:   bridge.NewKeys("qp"),
		out:    out,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return time.Unix(0, 905) },
	}, store, out
}

func TestSeedBar(t *testing.T) {
	c, store, out := newTestCLI(t)
	ctx := context.Background()

	err := c.run(ctx, "seed-bar", []string{"-strategy", "s1", "-instrument", "SHFE.ag2406", "-close", "5203.5", "-volume", "3"})
	require.NoError(t, err)

	fields, err := store.HGetAll(ctx, "qp:bar:s1:SHFE.ag2406")
	require.NoError(t, err)
	bar, err := bridge.DecodeBar(fields)
	require.NoError(t, err)

	assert.Equal(t, int64(905), bar.TsNs)
	assert.Equal(t, "SHFE", bar.Exchange)
	assert.True(t, bar.Close.Equal(decimal.RequireFromString("5203.5")))
	assert.True(t, bar.Turnover.Equal(decimal.RequireFromString("15610.5")))
	assert.Contains(t, out.String(), "qp:bar:s1:SHFE.ag2406")
}

func TestSeedBar_MissingFlags(t *testing.T) {
	c, _, _ := newTestCLI(t)
	err := c.run(context.Background(), "seed-bar", []string{"-strategy", "s1"})
	assert.Error(t, err)

	err = c.run(context.Background(), "seed-bar", []string{"-strategy", "s1", "-instrument", "x", "-close", "abc"})
	assert.Error(t, err)
}

func TestSeedState(t *testing.T) {
	c, store, _ := newTestCLI(t)
	ctx := context.Background()

	err := c.run(ctx, "seed-state", []string{"-instrument", "SHFE.ag2406", "-trend", "0.8", "-confidence", "0.9", "-ts", "42"})
	require.NoError(t, err)

	fields, err := store.HGetAll(ctx, "qp:state:SHFE.ag2406")
	require.NoError(t, err)
	snap, err := bridge.DecodeState("SHFE.ag2406", fields)
	require.NoError(t, err)

	assert.Equal(t, int64(42), snap.TsNs)
	assert.Equal(t, 0.8, snap.Trend.Score)
	assert.Equal(t, 0.9, snap.Volatility.Confidence)
	assert.Equal(t, 0.0, snap.Volatility.Score)
}

func TestDump(t *testing.T) {
	c, store, out := newTestCLI(t)
	ctx := context.Background()

	fields, err := bridge.EncodeIntents([]model.SignalIntent{{
		StrategyID:   "s1",
		InstrumentID: "SHFE.ag2406",
		Side:         model.SideBuy,
		Offset:       model.OffsetOpen,
		Volume:       1,
		LimitPrice:   decimal.RequireFromString("5203.5"),
		TsNs:         905,
		TraceID:      "t-1",
	}})
	require.NoError(t, err)
	require.NoError(t, store.ReplaceHash(ctx, c.keys.Intent("s1"), fields))

	mirror := bridge.NewOrderMirror(store, c.keys, time.Second)
	require.NoError(t, mirror.Write(ctx, "s1", model.OrderEvent{
		AccountID:     "sim",
		ClientOrderID: "c-1",
		InstrumentID:  "SHFE.ag2406",
		Status:        model.OrderStatusFilled,
		TotalVolume:   1,
		FilledVolume:  1,
		AvgPrice:      decimal.RequireFromString("5203.5"),
		EventTsNs:     906,
		TraceID:       "t-1",
	}))

	require.NoError(t, c.run(ctx, "dump", []string{"-strategy", "s1"}))

	var got dump
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	require.Len(t, got.Intents, 1)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "t-1", got.Intents[0].TraceID)
	assert.Equal(t, "BUY", got.Intents[0].Side)
	assert.Equal(t, "qp:order:s1:c-1", got.Orders[0].Key)
	assert.Equal(t, "FILLED", got.Orders[0].Status)
	assert.Equal(t, "t-1", got.Orders[0].TraceID)
	assert.Equal(t, 1, got.Chain.Intents)
	assert.Equal(t, 1, got.Chain.OrderKeys)
}

func TestDump_Empty(t *testing.T) {
	c, _, out := newTestCLI(t)
	require.NoError(t, c.run(context.Background(), "dump", []string{"-strategy", "nobody"}))

	var got dump
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	assert.Empty(t, got.Intents)
	assert.Empty(t, got.Orders)
}

func TestTicks_Fallback(t *testing.T) {
	c, _, out := newTestCLI(t)
	err := c.run(context.Background(), "ticks", []string{"-instrument", "SHFE.ag2406, SHFE.rb2410", "-duration", "150ms"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "SHFE.ag2406 last=")
	assert.Contains(t, out.String(), "SHFE.rb2410 last=")
}

func TestRun_UnknownCommand(t *testing.T) {
	c, _, _ := newTestCLI(t)
	err := c.run(context.Background(), "flush", nil)
	assert.True(t, errors.Is(err, errUnknownCommand))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBridgeAddr, cfg.Bridge.Addr)
	assert.Equal(t, config.DefaultGatewayMode, cfg.Gateway.Mode)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
	assert.True(t, strings.HasPrefix(exchangeOf("SHFE.ag2406"), "SHFE"))
	assert.Equal(t, "", exchangeOf("ag2406"))
}
