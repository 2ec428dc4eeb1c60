package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bliqhq/bliq/internal/types"
)

// latencyStats summarizes query timings from a concurrent run.
type latencyStats struct {
	Min, Max, Mean time.Duration
	P50, P95, P99  time.Duration
	TotalQueries   int
	Errors         int
}

func computeLatencyStats(durations []time.Duration) latencyStats {
	if len(durations) == 0 {
		return latencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return latencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// createLoadDB fills a database with numUsers users holding perUser tasks
// each. Every third task is an imported GitHub issue.
func createLoadDB(t testing.TB, numUsers, perUser int) (*DB, []string) {
	t.Helper()
	ctx := context.Background()
	db, err := OpenAndInit(ctx, filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.RawDB().SetMaxOpenConns(50)

	base := time.Now().Add(-30 * 24 * time.Hour)
	statuses := []types.Status{types.StatusTodo, types.StatusTodo, types.StatusInProgress, types.StatusDone}

	users := make([]string, numUsers)
	for u := 0; u < numUsers; u++ {
		id := fmt.Sprintf("load-u%d", u)
		users[u] = id
		if err := db.PutUser(ctx, &types.User{ID: id, Email: id + "@example.com", Name: id, PasswordHash: "x", CreatedAt: base}); err != nil {
			t.Fatalf("PutUser() failed: %v", err)
		}
		for i := 0; i < perUser; i++ {
			task := makeTask(fmt.Sprintf("%s-t%04d", id, i), base.Add(time.Duration(i)*time.Minute))
			task.UserID = id
			task.Status = statuses[i%len(statuses)]
			task.Tags = []string{"load", fmt.Sprintf("batch-%d", i/50)}
			if i%3 == 0 {
				task.Source = types.SourceGitHub
				task.SourceID = fmt.Sprintf("%d", 10000+i)
				task.SourceRef = fmt.Sprintf("%d", i)
				task.Collection = "r1"
			}
			if err := db.PutTask(ctx, task); err != nil {
				t.Fatalf("PutTask() failed: %v", err)
			}
		}
	}
	return db, users
}

// runConcurrentReads has each reader list one user's tasks and stats
// queriesEach times, round-robin over users.
func runConcurrentReads(ctx context.Context, db *DB, users []string, readers, queriesEach int) latencyStats {
	var (
		mu        sync.Mutex
		durations []time.Duration
		errCount  int
		wg        sync.WaitGroup
	)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			local := make([]time.Duration, 0, queriesEach)
			failed := 0
			for q := 0; q < queriesEach; q++ {
				userID := users[(reader+q)%len(users)]
				start := time.Now()
				if _, err := db.TasksByUser(ctx, userID); err != nil {
					failed++
					continue
				}
				if _, err := db.Stats(ctx, userID); err != nil {
					failed++
					continue
				}
				local = append(local, time.Since(start))
			}
			mu.Lock()
			durations = append(durations, local...)
			errCount += failed
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	stats := computeLatencyStats(durations)
	stats.Errors = errCount
	return stats
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("p50/p99 = %v/%v", s.P50, s.P99)
	}
	if s.TotalQueries != 100 {
		t.Errorf("TotalQueries = %d", s.TotalQueries)
	}
	if (computeLatencyStats(nil) != latencyStats{}) {
		t.Error("empty input should give zero stats")
	}
}

func TestConcurrentReads_Small(t *testing.T) {
	db, users := createLoadDB(t, 3, 60)

	stats := runConcurrentReads(context.Background(), db, users, 10, 5)
	if stats.Errors > 0 {
		t.Errorf("got %d errors during queries", stats.Errors)
	}
	if stats.TotalQueries != 50 {
		t.Errorf("expected 50 queries, got %d", stats.TotalQueries)
	}
	t.Logf("p50=%v p95=%v max=%v", stats.P50, stats.P95, stats.Max)
}

// TestConcurrentReadWrite runs readers while a writer keeps importing
// items and changing statuses, and checks every read sees a consistent
// task set.
func TestConcurrentReadWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	db, users := createLoadDB(t, 4, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 32)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			task := makeTask(fmt.Sprintf("w-%05d", i), time.Now())
			task.UserID = users[i%len(users)]
			task.Source = types.SourceTrello
			task.SourceID = fmt.Sprintf("card-%d", i)
			task.SourceRef = task.SourceID
			task.Collection = "b1"
			if err := db.PutTask(ctx, task); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("writer: %w", err)
				return
			}
		}
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			userID := users[reader%len(users)]
			for ctx.Err() == nil {
				tasks, err := db.TasksByUser(ctx, userID)
				if err != nil {
					if ctx.Err() == nil {
						errs <- fmt.Errorf("reader %d: %w", reader, err)
					}
					return
				}
				for _, task := range tasks {
					if task.UserID != userID {
						errs <- fmt.Errorf("reader %d got task %s of user %s", reader, task.ID, task.UserID)
						return
					}
					if err := task.Validate(); err != nil {
						errs <- fmt.Errorf("reader %d read invalid task %s: %w", reader, task.ID, err)
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(r)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func BenchmarkTasksByUser(b *testing.B) {
	db, users := createLoadDB(b, 1, 500)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.TasksByUser(ctx, users[0]); err != nil {
			b.Fatal(err)
		}
	}
}
