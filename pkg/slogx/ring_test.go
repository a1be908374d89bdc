package slogx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingKeepsMostRecent(t *testing.T) {
	t.Parallel()

	ring := NewRing(3)
	logger := slog.New(NewRingHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), ring))

	for i := range 5 {
		logger.Info(fmt.Sprintf("record %d", i))
	}

	entries := ring.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "record 2", entries[0].Message)
	require.Equal(t, "record 4", entries[2].Message)
	require.Equal(t, 3, ring.Len())
	require.Equal(t, 3, ring.Cap())
}

func TestRingPartiallyFilled(t *testing.T) {
	t.Parallel()

	ring := NewRing(0)
	require.Equal(t, DefaultRingSize, ring.Cap())
	require.Empty(t, ring.Entries())

	logger := slog.New(NewRingHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), ring))
	logger.Warn("first")
	logger.Error("second")

	entries := ring.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "WARN", entries[0].Level)
	require.Equal(t, "ERROR", entries[1].Level)
}

func TestRingHandlerAttrs(t *testing.T) {
	t.Parallel()

	ring := NewRing(10)
	var out bytes.Buffer
	logger := slog.New(NewRingHandler(slog.NewJSONHandler(&out, nil), ring)).
		With("service", "walletauth").
		WithGroup("req").
		With("id", "r-1")

	logger.Info("handled", "status", 200, "error", errors.New("boom"), slog.Group("sig", "family", "evm"))

	entries := ring.Entries()
	require.Len(t, entries, 1)
	attrs := entries[0].Attrs
	require.Equal(t, "walletauth", attrs["service"])
	require.Equal(t, "r-1", attrs["req.id"])
	require.EqualValues(t, 200, attrs["req.status"])
	require.Equal(t, "boom", attrs["req.error"])
	require.Equal(t, "evm", attrs["req.sig.family"])

	// The wrapped handler still receives the record
	require.Contains(t, out.String(), `"msg":"handled"`)
}

func TestRingHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	ring := NewRing(10)
	logger := slog.New(NewRingHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}), ring))

	logger.Info("dropped")
	logger.Warn("kept")

	entries := ring.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "kept", entries[0].Message)
}

func TestRingConcurrentWriters(t *testing.T) {
	t.Parallel()

	ring := NewRing(50)
	logger := slog.New(NewRingHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), ring))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				logger.InfoContext(context.Background(), "tick", "writer", i, "n", j)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, ring.Len())
}

func TestNew(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	ring := NewRing(10)
	logger := New(Config{Service: "walletauth", Version: "test", Env: "prod", Level: "warn", Format: "json", Output: &out, Ring: ring})

	logger.Info("quiet")
	logger.Warn("loud")

	require.NotContains(t, out.String(), "quiet")
	require.Contains(t, out.String(), `"service":"walletauth"`)
	require.Len(t, ring.Entries(), 1)
	require.Equal(t, "prod", ring.Entries()[0].Attrs["env"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}
