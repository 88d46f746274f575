package cache

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewResultsCache_EmptyURLDisabled(t *testing.T) {
	c, err := NewResultsCache("", time.Minute, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, c)

	_, ok := c.Get(context.Background(), "query", []string{"https://a.example"})
	assert.False(t, ok, "disabled cache always misses")

	err = c.Store(context.Background(), "query", []string{"https://a.example"}, []string{"https://a.example"})
	assert.NoError(t, err, "disabled cache accepts stores silently")

	assert.NoError(t, c.Close())
}

func TestNewResultsCache_InvalidURL(t *testing.T) {
	_, err := NewResultsCache("not-a-redis-url", time.Minute, discardLogger())
	assert.Error(t, err)
}

func TestKey_OrderInsensitive(t *testing.T) {
	c, err := NewResultsCache("", time.Minute, discardLogger())
	require.NoError(t, err)

	k1 := c.key("query", []string{"https://a.example", "https://b.example"})
	k2 := c.key("query", []string{"https://b.example", "https://a.example"})
	assert.Equal(t, k1, k2, "the same URL set in a different order is the same request")
}

func TestKey_Distinguishes(t *testing.T) {
	c, err := NewResultsCache("", time.Minute, discardLogger())
	require.NoError(t, err)

	base := c.key("query", []string{"https://a.example"})

	assert.NotEqual(t, base, c.key("other query", []string{"https://a.example"}))
	assert.NotEqual(t, base, c.key("query", []string{"https://b.example"}))
	assert.NotEqual(t, base, c.key("query", []string{"https://a.example", "https://b.example"}))
}

func TestKey_Prefix(t *testing.T) {
	c, err := NewResultsCache("", time.Minute, discardLogger())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.key("query", nil), "rank:results:"))
}
