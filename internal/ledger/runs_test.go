package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/encoder"
	"github.com/jmylchreest/reelpipe/internal/pipeline"
)

func testLedgerConfig(dsn string) config.LedgerConfig {
	return config.LedgerConfig{
		Enabled:         true,
		Driver:          "sqlite",
		DSN:             dsn,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		LogLevel:        "silent",
		Retention:       config.Duration(24 * time.Hour),
	}
}

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), testLedgerConfig(":memory:"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testRunConfig() *config.Config {
	return &config.Config{
		Input:  config.InputConfig{Video: "in.y4m", Audio: "in.wav"},
		Encode: config.EncodeConfig{VideoCodec: "raw", AudioCodec: "raw", Ranges: "0-10"},
		Output: config.OutputConfig{Path: "out.raw", Mux: "raw"},
	}
}

func TestOpen(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		l := setupTestLedger(t)
		assert.NoError(t, l.Ping(context.Background()))
		assert.Equal(t, "sqlite", l.Driver())
	})

	t.Run("file", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "runs.db")
		l, err := Open(context.Background(), testLedgerConfig(dsn), nil)
		require.NoError(t, err)
		require.NoError(t, l.Close())
		assert.FileExists(t, dsn)
	})

	t.Run("unsupported driver", func(t *testing.T) {
		cfg := testLedgerConfig(":memory:")
		cfg.Driver = "oracle"
		_, err := Open(context.Background(), cfg, nil)
		assert.ErrorContains(t, err, "unsupported database driver")
	})
}

func TestStartAndFinish(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)

	runID := pipeline.NewRunID()
	started := time.Now().Add(-3 * time.Second)
	rec, err := l.Start(ctx, runID, testRunConfig(), started)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRunning, rec.Outcome)

	got, err := l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "in.y4m", got.VideoInput)
	assert.Equal(t, "0-10", got.Ranges)
	assert.Nil(t, got.FinishedAt)

	res := &pipeline.Result{
		RunID:      runID,
		Outcome:    pipeline.OutcomeExternalError,
		Encoder:    encoder.Stats{Encoded: 42, Skipped: 3, Cloned: 1, Bytes: 4200, Chunks: 2},
		Audio:      pipeline.ImportResult{Kind: "audio", Cause: "external_error"},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Err:        errors.New("reading audio: injected failure"),
	}
	require.NoError(t, l.Finish(ctx, rec, res))

	got, err = l.Get(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "external_error", got.Outcome)
	assert.Equal(t, int64(42), got.Encoded)
	assert.Equal(t, int64(3), got.Skipped)
	assert.Equal(t, int64(4200), got.Bytes)
	assert.Equal(t, 2, got.Chunks)
	assert.Equal(t, "external_error", got.AudioCause)
	assert.Equal(t, "reading audio: injected failure", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, int64(3000), got.DurationMs)
}

func TestStartRejectsInvalidID(t *testing.T) {
	l := setupTestLedger(t)
	_, err := l.Start(context.Background(), "not-a-ulid", testRunConfig(), time.Now())
	assert.Error(t, err)
}

func TestGetNotFound(t *testing.T) {
	l := setupTestLedger(t)
	_, err := l.Get(context.Background(), ulid.Make().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := range 5 {
		id := pipeline.NewRunID()
		ids = append(ids, id)
		_, err := l.Start(ctx, id, testRunConfig(), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	runs, total, err := l.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[3], runs[1].ID)

	runs, _, err = l.List(ctx, 4, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[0], runs[0].ID)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	l := setupTestLedger(t)
	now := time.Now()

	finish := func(started time.Time) string {
		id := pipeline.NewRunID()
		rec, err := l.Start(ctx, id, testRunConfig(), started)
		require.NoError(t, err)
		require.NoError(t, l.Finish(ctx, rec, &pipeline.Result{Outcome: pipeline.OutcomeDone, FinishedAt: started.Add(time.Second)}))
		return id
	}

	old := finish(now.Add(-48 * time.Hour))
	recent := finish(now.Add(-time.Hour))
	running := pipeline.NewRunID()
	_, err := l.Start(ctx, running, testRunConfig(), now.Add(-72*time.Hour))
	require.NoError(t, err)

	n, err := l.PruneRetention(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Get(ctx, old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(ctx, recent)
	assert.NoError(t, err)
	_, err = l.Get(ctx, running)
	assert.NoError(t, err, "unfinished runs are kept")
}

func TestPruneRetentionDisabled(t *testing.T) {
	cfg := testLedgerConfig(":memory:")
	cfg.Retention = 0
	l, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer l.Close()

	n, err := l.PruneRetention(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
