//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/render"
	"github.com/emperorhan/signal-controller/internal/store/postgres"
)

func TestJournal_WriteAndRecent(t *testing.T) {
	db := setupJournalDB(t)
	j := postgres.NewJournal(db, slog.Default())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	phase := render.NewEnvelope(base, render.PhaseEvent{
		Phase: model.PhaseAGreen,
		Mode:  model.ModeTimer,
		Halo:  model.HaloNone,
	})
	logEnv := render.NewEnvelope(base.Add(time.Second), render.LogEvent{
		Severity: render.SeverityInfo,
		Message:  "Timer mode active",
	})

	require.NoError(t, j.Write(ctx, phase))
	require.NoError(t, j.Write(ctx, logEnv))
	// Duplicate IDs are ignored.
	require.NoError(t, j.Write(ctx, logEnv))

	all, err := j.Recent(ctx, postgres.RecentQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, logEnv.ID, all[0].ID)
	assert.Equal(t, phase.ID, all[1].ID)
	assert.True(t, base.Equal(all[1].At))

	var got render.PhaseEvent
	require.NoError(t, json.Unmarshal(all[1].Data, &got))
	assert.Equal(t, model.PhaseAGreen, got.Phase)

	logs, err := j.Recent(ctx, postgres.RecentQuery{Type: string(render.EventLog), Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "log", logs[0].Type)
}

func TestJournal_Prune(t *testing.T) {
	db := setupJournalDB(t)
	j := postgres.NewJournal(db, slog.Default())
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	require.NoError(t, j.Write(ctx, render.NewEnvelope(old, render.StatusEvent{Text: "old"})))
	require.NoError(t, j.Write(ctx, render.NewEnvelope(fresh, render.StatusEvent{Text: "fresh"})))

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := j.Recent(ctx, postgres.RecentQuery{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.JSONEq(t, `{"text":"fresh"}`, string(left[0].Data))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupJournalDB(t)

	var applied int
	require.NoError(t, db.QueryRowContext(context.Background(),
		"SELECT count(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)
}
