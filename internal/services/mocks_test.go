package services

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"emoney-portal/internal/platform"
	"emoney-portal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) Get(ctx context.Context, caller platform.Caller, path string, query url.Values, out any) error {
	args := m.Called(ctx, caller, path, query, out)
	return args.Error(0)
}

func (m *MockPlatform) Post(ctx context.Context, caller platform.Caller, path string, body, out any) error {
	args := m.Called(ctx, caller, path, body, out)
	return args.Error(0)
}

func (m *MockPlatform) Put(ctx context.Context, caller platform.Caller, path string, body, out any) error {
	args := m.Called(ctx, caller, path, body, out)
	return args.Error(0)
}

func (m *MockPlatform) Patch(ctx context.Context, caller platform.Caller, path string, body, out any) error {
	args := m.Called(ctx, caller, path, body, out)
	return args.Error(0)
}

func (m *MockPlatform) Delete(ctx context.Context, caller platform.Caller, path string, out any) error {
	args := m.Called(ctx, caller, path, out)
	return args.Error(0)
}

// respond decodes payload into the out argument, the way the client unwraps a result.
func respond(payload string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		out := args.Get(len(args) - 1)
		if out == nil {
			return
		}
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			panic(err)
		}
	}
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, msg any) error {
	args := m.Called(channel, msg)
	return args.Error(0)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) RecordQR(ctx context.Context, qr *models.QRSession) error {
	args := m.Called(qr)
	return args.Error(0)
}

func (m *MockAudit) RecordCashout(ctx context.Context, merchantCode string, flow *models.CashoutFlow) error {
	args := m.Called(merchantCode, flow)
	return args.Error(0)
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	args := m.Called(id)
	sess, _ := args.Get(0).(*models.Session)
	return sess, args.Error(1)
}

// fakeClock is a manually driven Clock.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Advance moves time forward and delivers one tick to every live ticker.
func (c *fakeClock) Advance(t *testing.T, d time.Duration) {
	t.Helper()
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, tk := range tickers {
		select {
		case tk.c <- now:
		case <-tk.stopped:
		case <-time.After(time.Second):
			require.FailNow(t, "ticker was not drained")
		}
	}
}

type fakeTicker struct {
	c       chan time.Time
	once    sync.Once
	stopped chan struct{}
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.once.Do(func() { close(t.stopped) })
}
