package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestEnvWriteAndExists(t *testing.T) {
	env := NewTestEnv(t)
	env.WriteFile("nested/dir/file.json", []byte("{}"))

	assert.True(t, env.FileExists("nested/dir/file.json"))
	assert.False(t, env.FileExists("missing.json"))
}

func TestClockSleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)

	require.NoError(t, c.Sleep(context.Background(), 5*time.Second))
	c.Advance(time.Second)

	assert.Equal(t, start.Add(6*time.Second), c.Now())
	assert.Equal(t, []time.Duration{5 * time.Second}, c.Slept())
}

func TestClockSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClock(time.Now())
	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
}

func TestNewIPv4TestServer(t *testing.T) {
	server := NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
