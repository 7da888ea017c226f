package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(runID uuid.UUID, url, hash string) QueueItemCreate {
	return QueueItemCreate{RunID: runID, URL: url, URLHash: hash}
}

func TestQueueAddAbsorbsDuplicates(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	first, err := s.Queue.Add(ctx, newItem(runID, "http://x.test/a", "hash-a"))
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := s.Queue.Add(ctx, newItem(runID, "http://x.test/a", "hash-a"))
	require.NoError(t, err)
	assert.Nil(t, dup)

	count, err := s.Queue.PendingCount(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// same hash in another run is a distinct row
	other, err := s.Queue.Add(ctx, newItem(uuid.New(), "http://x.test/a", "hash-a"))
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestQueueAddBatchReportsInsertedOnly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	inserted, err := s.Queue.AddBatch(ctx, []QueueItemCreate{
		newItem(runID, "http://x.test/a", "hash-a"),
		newItem(runID, "http://x.test/b", "hash-b"),
		newItem(runID, "http://x.test/a", "hash-a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestQueueClaimTransitionsAndOrders(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	low := newItem(runID, "http://x.test/low", "hash-low")
	high := newItem(runID, "http://x.test/high", "hash-high")
	high.Priority = 5
	_, err := s.Queue.AddBatch(ctx, []QueueItemCreate{low, high})
	require.NoError(t, err)

	claimed, err := s.Queue.Claim(ctx, runID, "worker-1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "http://x.test/high", claimed[0].URL)
	assert.Equal(t, QueueStatusProcessing, claimed[0].Status)
	require.NotNil(t, claimed[0].WorkerID)
	assert.Equal(t, "worker-1", *claimed[0].WorkerID)
	assert.NotNil(t, claimed[0].ClaimedAt)
	assert.Equal(t, 1, claimed[0].Attempts)

	count, err := s.Queue.PendingCount(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueConcurrentClaimsAreDisjoint(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	var items []QueueItemCreate
	for i := 0; i < 50; i++ {
		items = append(items, newItem(runID,
			"http://x.test/"+uuid.NewString(), uuid.NewString()))
	}
	_, err := s.Queue.AddBatch(ctx, items)
	require.NoError(t, err)

	var (
		mutex sync.Mutex
		seen  = map[uuid.UUID]int{}
		wg    sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				claimed, err := s.Queue.Claim(ctx, runID, worker, 7)
				require.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mutex.Lock()
				for _, item := range claimed {
					seen[item.ID]++
				}
				mutex.Unlock()
			}
		}(uuid.NewString())
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestQueueTerminalStatusesNeverRegress(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	item, err := s.Queue.Add(ctx, newItem(runID, "http://x.test/a", "hash-a"))
	require.NoError(t, err)
	_, err = s.Queue.Claim(ctx, runID, "w", 1)
	require.NoError(t, err)

	require.NoError(t, s.Queue.Complete(ctx, item.ID))
	// idempotent and never regressing
	require.NoError(t, s.Queue.Complete(ctx, item.ID))
	require.NoError(t, s.Queue.Fail(ctx, item.ID, "late failure"))

	count, err := s.Queue.PendingCount(ctx, runID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueueResetStale(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	_, err := s.Queue.AddBatch(ctx, []QueueItemCreate{
		newItem(runID, "http://x.test/a", "hash-a"),
		newItem(runID, "http://x.test/b", "hash-b"),
	})
	require.NoError(t, err)
	claimed, err := s.Queue.Claim(ctx, runID, "w", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// nothing stale yet with a generous timeout
	reset, err := s.Queue.ResetStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, reset)

	// a negative timeout puts the cutoff in the future, everything is stale
	reset, err = s.Queue.ResetStale(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	count, err := s.Queue.PendingCount(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// reset rows are claimable again and remember their attempts
	claimed, err = s.Queue.Claim(ctx, runID, "w2", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, 2, claimed[0].Attempts)
}

func TestRunLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	source, err := s.Sources.Create(ctx, CrawlSourceCreate{
		Domain:   "x.test",
		EntryURL: "http://x.test/",
		Type:     SourceTypeFullDomain,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceStatusActive, source.Status)

	run, err := s.Runs.Create(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	require.NoError(t, s.Runs.MarkStarted(ctx, run.ID))
	started, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, started.Status)
	assert.NotNil(t, started.StartedAt)

	require.NoError(t, s.Runs.UpdateStats(ctx, run.ID, 5, 4, 1))
	require.NoError(t, s.Runs.MarkCompleted(ctx, run.ID, ""))

	done, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, done.Status)
	assert.Nil(t, done.Error)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
	assert.Equal(t, done.PagesFound, done.PagesCrawled+done.PagesFailed)
}

func TestRunMarkCompletedWithError(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	run, err := s.Runs.Create(ctx, uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.Runs.MarkCompleted(ctx, run.ID, "datastore exploded"))

	failed, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "datastore exploded", *failed.Error)
}

func TestPagesLatestByURLHash(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sourceID := uuid.New()

	status := 200
	older := "old content"
	newer := "new content"
	olderHash := "1111111111111111111111111111111111111111111111111111111111111111"
	newerHash := "2222222222222222222222222222222222222222222222222222222222222222"
	hash := "deadbeef"
	_, err := s.Pages.Create(ctx, CrawledPageCreate{
		RunID: uuid.New(), SourceID: sourceID, URL: "http://x.test/p",
		URLHash: hash, StatusCode: &status, Content: &older, ContentHash: &olderHash,
	})
	require.NoError(t, err)
	_, err = s.Pages.Create(ctx, CrawledPageCreate{
		RunID: uuid.New(), SourceID: sourceID, URL: "http://x.test/p",
		URLHash: hash, StatusCode: &status, Content: &newer, ContentHash: &newerHash,
	})
	require.NoError(t, err)

	latest, err := s.Pages.LatestByURLHash(ctx, sourceID, hash)
	require.NoError(t, err)
	require.NotNil(t, latest.Content)
	assert.Equal(t, newer, *latest.Content)

	_, err = s.Pages.LatestByURLHash(ctx, sourceID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByIDNotFound(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.Sources.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Runs.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Pages.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
