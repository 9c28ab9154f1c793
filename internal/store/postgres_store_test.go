package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Popie52/jobscheduler/internal/model"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func openTestPostgres(t *testing.T) *PostgresJobStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewPostgresJobStore(db, 3)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx))

	_, err = db.ExecContext(ctx, `TRUNCATE jobs, datasets`)
	require.NoError(t, err)
	return s
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	enqueue(t, s, &model.Job{ID: "C", Priority: 2, CreatedAt: t0})
	enqueue(t, s, &model.Job{ID: "A", Priority: 1, CreatedAt: t0.Add(time.Second)})
	enqueue(t, s, &model.Job{ID: "B", Priority: 1, CreatedAt: t0.Add(2 * time.Second)})
	enqueue(t, s, &model.Job{ID: "X", Priority: 0, Attempts: 3, CreatedAt: t0})

	jobs, err := s.FetchEligible(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	won, err := s.Claim(ctx, "A")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.Claim(ctx, "A")
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, s.RecordOutcome(ctx, "A", model.Failed("provider down")))
	assert.ErrorIs(t, s.RecordOutcome(ctx, "missing", model.Failed("x")), ErrJobNotFound)

	n, err := s.CountStaleRunning(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPostgresStore_ClaimRace(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	id := uuid.NewString()
	enqueue(t, s, &model.Job{ID: id})

	var (
		wins int64
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.Claim(ctx, id)
			assert.NoError(t, err)
			if won {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins)

	var attempts int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = $1`, id).Scan(&attempts))
	assert.Equal(t, 1, attempts)
}

func TestPostgresStore_Dataset(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	_, err := s.GetDataset(ctx, "nope")
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets (id, content) VALUES ('ds', '{"a":1}')`)
	require.NoError(t, err)

	d, err := s.GetDataset(ctx, "ds")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(d.Content))
}

func TestPostgresStore_EnqueueDuplicate(t *testing.T) {
	s := openTestPostgres(t)
	enqueue(t, s, &model.Job{ID: "dup"})

	err := s.Enqueue(context.Background(), &model.Job{ID: "dup", Type: model.TypeContentAnalysis})
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestPostgresStore_StoresTruncatedMultibyteError(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	enqueue(t, s, &model.Job{ID: "utf8"})

	won, err := s.Claim(ctx, "utf8")
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, s.RecordOutcome(ctx, "utf8", model.Failed("x"+strings.Repeat("é", 300))))

	var status, msg string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT status, error_message FROM jobs WHERE id = 'utf8'`).Scan(&status, &msg))
	assert.Equal(t, "failed", status)
	assert.Len(t, msg, 499)
}
