package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clock is the time source of the QR countdowns.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// RemainingSeconds is max(0, floor((expiry-now)/1s)).
func RemainingSeconds(expiry, now time.Time) int {
	d := expiry.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

type countdown struct {
	expiry time.Time
	cancel context.CancelFunc
	once   sync.Once
}

// Countdowns runs one one-second countdown per merchant QR session. When a
// countdown reaches zero its expire hook runs exactly once.
type Countdowns struct {
	clock    Clock
	onExpire func(ctx context.Context, merchantCode string)
	onTick   func(merchantCode string, remaining int)

	mu     sync.Mutex
	timers map[string]*countdown
	wg     sync.WaitGroup
}

func NewCountdowns(clock Clock, onExpire func(ctx context.Context, merchantCode string)) *Countdowns {
	if clock == nil {
		clock = realClock{}
	}
	return &Countdowns{
		clock:    clock,
		onExpire: onExpire,
		timers:   make(map[string]*countdown),
	}
}

// OnTick registers a hook receiving every recomputed remaining value.
func (c *Countdowns) OnTick(fn func(merchantCode string, remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// Start arms the countdown for merchantCode, replacing a running one.
func (c *Countdowns) Start(ctx context.Context, merchantCode string, expiry time.Time) {
	ctx, cancel := context.WithCancel(ctx)
	cd := &countdown{expiry: expiry, cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.timers[merchantCode]; ok {
		prev.cancel()
	}
	c.timers[merchantCode] = cd
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, merchantCode, cd)
	}()
}

// Stop cancels the countdown without firing it. It does not wait, so it is
// safe to call from the expire hook.
func (c *Countdowns) Stop(merchantCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cd, ok := c.timers[merchantCode]; ok {
		cd.cancel()
		delete(c.timers, merchantCode)
	}
}

// StopAll cancels every countdown and waits for their goroutines.
func (c *Countdowns) StopAll() {
	c.mu.Lock()
	for code, cd := range c.timers {
		cd.cancel()
		delete(c.timers, code)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Countdowns) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Countdowns) Remaining(merchantCode string) (int, bool) {
	c.mu.Lock()
	cd, ok := c.timers[merchantCode]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	return RemainingSeconds(cd.expiry, c.clock.Now()), true
}

func (c *Countdowns) run(ctx context.Context, merchantCode string, cd *countdown) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := RemainingSeconds(cd.expiry, c.clock.Now())
	c.tick(merchantCode, remaining)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if r := RemainingSeconds(cd.expiry, c.clock.Now()); r < remaining {
				remaining = r
				c.tick(merchantCode, remaining)
			}
		}
	}
	c.fire(ctx, merchantCode, cd)
}

func (c *Countdowns) tick(merchantCode string, remaining int) {
	c.mu.Lock()
	fn := c.onTick
	c.mu.Unlock()
	if fn != nil {
		fn(merchantCode, remaining)
	}
}

func (c *Countdowns) fire(ctx context.Context, merchantCode string, cd *countdown) {
	c.mu.Lock()
	current, ok := c.timers[merchantCode]
	if !ok || current != cd {
		c.mu.Unlock()
		return
	}
	delete(c.timers, merchantCode)
	c.mu.Unlock()

	cd.once.Do(func() {
		slog.Info("qr countdown reached zero", "merchant_code", merchantCode)
		if c.onExpire != nil {
			c.onExpire(ctx, merchantCode)
		}
	})
	cd.cancel()
}
