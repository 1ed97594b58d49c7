package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/config"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/gateway"
	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/model"
)

var errUnknownCommand = errors.New("unknown command")

type cli struct {
	store  bridge.Store
	keys   bridge.Keys
	out    io.Writer
	cfg    *config.RuntimeConfig
	logger *slog.Logger
	now    func() time.Time
}

// dump is what the dump command prints.
type dump struct {
	Strategy string             `json:"strategy"`
	Intents  []intentView       `json:"intents"`
	Orders   []orderView        `json:"orders"`
	Chain    bridge.ChainStatus `json:"chain"`
}

type intentView struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Offset     string `json:"offset"`
	Volume     int64  `json:"volume"`
	Price      string `json:"price"`
	TsNs       int64  `json:"ts_ns"`
	TraceID    string `json:"trace_id"`
}

type orderView struct {
	Key          string `json:"key"`
	ClientID     string `json:"client_order_id"`
	Status       string `json:"status"`
	Filled       int64  `json:"filled"`
	Total        int64  `json:"total"`
	AvgPrice     string `json:"avg_price"`
	TraceID      string `json:"trace_id"`
	DecodeFailed string `json:"decode_error,omitempty"`
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "seed-bar":
		return c.seedBar(ctx, args)
	case "seed-state":
		return c.seedState(ctx, args)
	case "dump":
		return c.dump(ctx, args)
	case "ticks":
		return c.ticks(ctx, args)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd)
	}
}

func (c *cli) timestamp() int64 {
	if c.now != nil {
		return c.now().UnixNano()
	}
	return time.Now().UnixNano()
}

func (c *cli) seedBar(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed-bar", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	strategyID := fs.String("strategy", "", "strategy id")
	instrument := fs.String("instrument", "", "instrument id, e.g. SHFE.ag2406")
	closePx := fs.String("close", "", "close price")
	volume := fs.Int64("volume", 1, "bar volume")
	timeframe := fs.String("timeframe", "1m", "bar timeframe")
	ts := fs.Int64("ts", 0, "bar ts_ns (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *strategyID == "" || *instrument == "" || *closePx == "" {
		return errors.New("seed-bar needs -strategy, -instrument and -close")
	}

	px, err := decimal.NewFromString(*closePx)
	if err != nil {
		return fmt.Errorf("close %q: %w", *closePx, err)
	}
	if *ts == 0 {
		*ts = c.timestamp()
	}

	bar := model.Bar{
		InstrumentID: *instrument,
		Exchange:     exchangeOf(*instrument),
		Timeframe:    *timeframe,
		TsNs:         *ts,
		Open:         px,
		High:         px,
		Low:          px,
		Close:        px,
		Volume:       *volume,
		Turnover:     px.Mul(decimal.NewFromInt(*volume)),
	}
	key := c.keys.Bar(*strategyID, *instrument)
	if err := c.store.HSet(ctx, key, bridge.EncodeBar(bar)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %s ts_ns=%d close=%s\n", key, bar.TsNs, bar.Close)
	return nil
}

func (c *cli) seedState(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed-state", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	instrument := fs.String("instrument", "", "instrument id")
	trend := fs.Float64("trend", 0, "trend score")
	confidence := fs.Float64("confidence", 1, "confidence applied to every factor")
	ts := fs.Int64("ts", 0, "snapshot ts_ns (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instrument == "" {
		return errors.New("seed-state needs -instrument")
	}
	if *ts == 0 {
		*ts = c.timestamp()
	}

	snap := model.StateSnapshot{InstrumentID: *instrument, TsNs: *ts}
	for _, name := range model.FactorNames {
		snap.SetFactor(name, model.FactorScore{Confidence: *confidence})
	}
	snap.Trend = model.FactorScore{Score: *trend, Confidence: *confidence}

	key := c.keys.State(*instrument)
	if err := c.store.HSet(ctx, key, bridge.EncodeState(snap)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %s ts_ns=%d trend=%g\n", key, snap.TsNs, *trend)
	return nil
}

func (c *cli) dump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	strategyID := fs.String("strategy", "", "strategy id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *strategyID == "" {
		return errors.New("dump needs -strategy")
	}

	d := dump{Strategy: *strategyID, Intents: []intentView{}, Orders: []orderView{}}

	fields, err := c.store.HGetAll(ctx, c.keys.Intent(*strategyID))
	if err != nil {
		return err
	}
	intents, err := bridge.DecodeIntents(*strategyID, fields)
	if err != nil {
		return fmt.Errorf("decode intents: %w", err)
	}
	for _, in := range intents {
		d.Intents = append(d.Intents, intentView{
			Instrument: in.InstrumentID,
			Side:       in.Side.String(),
			Offset:     in.Offset.String(),
			Volume:     in.Volume,
			Price:      in.LimitPrice.String(),
			TsNs:       in.TsNs,
			TraceID:    in.TraceID,
		})
	}

	keys, err := c.store.Keys(ctx, c.keys.OrderPattern(*strategyID))
	if err != nil {
		return err
	}
	sort.Strings(keys)
	for _, key := range keys {
		view := orderView{Key: key}
		fields, err := c.store.HGetAll(ctx, key)
		if err != nil {
			return err
		}
		ev, err := bridge.DecodeOrderEvent(fields)
		if err != nil {
			view.DecodeFailed = err.Error()
		} else {
			view.ClientID = ev.ClientOrderID
			view.Status = ev.Status.String()
			view.Filled = ev.FilledVolume
			view.Total = ev.TotalVolume
			view.AvgPrice = ev.AvgPrice.String()
			view.TraceID = ev.TraceID
		}
		d.Orders = append(d.Orders, view)
	}

	d.Chain, err = bridge.NewChainProbe(c.store, c.keys, *strategyID).Observe(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// ticks connects the configured market data adapter and prints ticks until
// the duration elapses or the context is cancelled.
func (c *cli) ticks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticks", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	instruments := fs.String("instrument", "", "comma separated instrument ids")
	duration := fs.Duration("duration", 5*time.Second, "how long to stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := splitList(*instruments)
	if len(ids) == 0 {
		return errors.New("ticks needs -instrument")
	}

	factory, err := gateway.NewFactory(c.cfg.Gateway, c.logger)
	if err != nil {
		return err
	}
	md := factory.MarketData()

	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	md.OnTick(func(t model.Tick) {
		fmt.Fprintf(c.out, "%s last=%s bid=%s ask=%s vol=%d\n", t.InstrumentID, t.LastPrice, t.BidPrice, t.AskPrice, t.Volume)
	})
	if err := md.Connect(ctx, factory.ConnectConfig()); err != nil {
		return fmt.Errorf("connect market data: %w", err)
	}
	defer md.Disconnect()

	if !md.Subscribe(ctx, ids) {
		return errors.New("subscribe rejected")
	}
	<-ctx.Done()
	c.logger.Info("tick stream finished", "mode", factory.Mode(), "instruments", len(ids))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func exchangeOf(instrumentID string) string {
	if exch, _, ok := strings.Cut(instrumentID, "."); ok {
		return exch
	}
	return ""
}
