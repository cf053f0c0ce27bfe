package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache[string](time.Minute)
	c.Set("crumb", "abc")

	v, ok := c.Get("crumb")
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	c := NewCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Hour)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok, "a should have expired")
	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	c.Cleanup()
	assert.Equal(t, 1, c.Len())
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache[[]byte](time.Minute)
	c.Set("doc", []byte("{}"))
	c.Invalidate("doc")
	_, ok := c.Get("doc")
	assert.False(t, ok)
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(0)
	assert.Nil(t, th)
	assert.NoError(t, th.Wait(context.Background()))
}

func TestThrottleBurstThenBlocks(t *testing.T) {
	th := NewThrottle(2)
	ctx := context.Background()
	require.NoError(t, th.Wait(ctx))
	require.NoError(t, th.Wait(ctx))

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := th.Wait(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottleRefills(t *testing.T) {
	th := NewThrottle(100)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(ctx))
	}
	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("ticker", "AAPL").Debug("fetching")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "AAPL", line["ticker"])
	assert.Equal(t, "fetching", line["msg"])
}

func TestNewLoggerFallbackLevel(t *testing.T) {
	log := NewLogger(&bytes.Buffer{}, "verbose", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	_, isText := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
