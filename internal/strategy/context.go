package strategy

import (
	"context"
	"log/slog"
	"time"
)

// Context is the scratch space of one dispatch call. It is shared by every
// strategy the call reaches and discarded when the call returns.
type Context struct {
	ctx        context.Context
	strategyID string
	logger     *slog.Logger
	now        time.Time
	values     map[string]any
}

func newContext(ctx context.Context, logger *slog.Logger, now time.Time) *Context {
	return &Context{
		ctx:    ctx,
		logger: logger,
		now:    now,
		values: make(map[string]any),
	}
}

// Context returns the caller's context.
func (c *Context) Context() context.Context { return c.ctx }

// StrategyID returns the id of the strategy currently being dispatched to.
func (c *Context) StrategyID() string { return c.strategyID }

// Logger returns a logger tagged with the current strategy id.
func (c *Context) Logger() *slog.Logger {
	return c.logger.With("strategy_id", c.strategyID)
}

// Now returns the dispatch time. All strategies of one call see the same value.
func (c *Context) Now() time.Time { return c.now }

// Set stores a value for later strategies of the same call.
func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

// Get returns a value stored earlier in the same call.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of stored values.
func (c *Context) Len() int { return len(c.values) }
