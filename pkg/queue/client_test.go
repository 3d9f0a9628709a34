package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fuuuzzy/voicepipe/pkg/tasks"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	client := New(Config{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func testPayload(hook string) tasks.Payload {
	return tasks.Payload{
		Text:           "hello",
		Language:       "en",
		SpkAudioPrompt: "http://example.com/ref.wav",
		HookURL:        hook,
	}
}

func TestScore(t *testing.T) {
	now := time.Now()
	secs := float64(now.UnixNano()) / float64(time.Second)

	if got := Score(1, now); got != 5*secs {
		t.Errorf("Score(1) = %f, want %f", got, 5*secs)
	}
	if got := Score(tasks.PriorityMax, now); got != secs {
		t.Errorf("Score(5) = %f, want %f", got, secs)
	}

	// Later admission at the same priority scores higher.
	later := now.Add(time.Second)
	if Score(3, later) <= Score(3, now) {
		t.Error("expected score to grow with admission time")
	}
}

func TestEnqueue(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()

	id, err := client.Enqueue(ctx, testPayload("http://hook"), 3)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty task id")
	}

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	members, err := rdb.ZRange(ctx, DefaultProcessQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("ZRange failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(members))
	}

	var task tasks.Task
	if err := json.Unmarshal([]byte(members[0]), &task); err != nil {
		t.Fatalf("failed to unmarshal stored member: %v", err)
	}
	if task.ID != id {
		t.Errorf("stored task_id = %q, want %q", task.ID, id)
	}
	if task.Payload.HookURL != "http://hook" {
		t.Errorf("stored hook_url = %q, want %q", task.Payload.HookURL, "http://hook")
	}
}

func TestEnqueueRejectsBadPriority(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	for _, p := range []int{0, 6, -3} {
		if _, err := client.Enqueue(ctx, testPayload("http://x"), p); err == nil {
			t.Errorf("expected Enqueue to reject priority %d", p)
		}
	}

	stats, err := client.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths failed: %v", err)
	}
	if stats.ProcessQueued != 0 {
		t.Errorf("rejected tasks must not be queued, found %d", stats.ProcessQueued)
	}
}

func TestEnqueueDistinctIDs(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		id, err := client.Enqueue(ctx, testPayload("http://x"), 5)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("task id %s returned twice", id)
		}
		seen[id] = true
	}
}

func TestDequeueOrdering(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	// The weight term (PriorityMax+1-priority) gives the numerically lowest
	// priority the highest score at comparable admission times.
	low, _ := client.Enqueue(ctx, testPayload("http://x"), 5)
	mid, _ := client.Enqueue(ctx, testPayload("http://x"), 3)
	urgent, _ := client.Enqueue(ctx, testPayload("http://x"), 1)

	want := []string{urgent, mid, low}
	for i, expected := range want {
		task, err := client.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d failed: %v", i, err)
		}
		if task == nil {
			t.Fatalf("Dequeue %d returned empty queue", i)
		}
		if task.ID != expected {
			t.Errorf("Dequeue %d = %s, want %s", i, task.ID, expected)
		}
	}
}

func TestDequeueEmptyAndDestructive(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	task, err := client.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue on empty queue failed: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task from empty queue, got %+v", task)
	}

	if _, err := client.Enqueue(ctx, testPayload("http://x"), 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, err := client.Dequeue(ctx)
	if err != nil || first == nil {
		t.Fatalf("expected a task, got (%v, %v)", first, err)
	}

	second, err := client.Dequeue(ctx)
	if err != nil {
		t.Fatalf("second Dequeue failed: %v", err)
	}
	if second != nil {
		t.Errorf("dequeue is not destructive: got %+v again", second)
	}
}

func TestConcurrentDequeueUniqueness(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	const n = 40
	for i := 0; i < n; i++ {
		if _, err := client.Enqueue(ctx, testPayload("http://x"), 1+i%5); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := client.Dequeue(ctx)
				if err != nil {
					t.Errorf("Dequeue failed: %v", err)
					return
				}
				if task == nil {
					return
				}
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("task %s delivered to two consumers", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d unique tasks, got %d", n, len(seen))
	}
}

func TestCancel(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	keep1, _ := client.Enqueue(ctx, testPayload("http://x"), 2)
	victim, _ := client.Enqueue(ctx, testPayload("http://x"), 3)
	keep2, _ := client.Enqueue(ctx, testPayload("http://x"), 4)

	removed, err := client.Cancel(ctx, victim)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !removed {
		t.Fatal("expected Cancel to remove a pending task")
	}

	stats, err := client.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths failed: %v", err)
	}
	if stats.ProcessQueued != 2 {
		t.Errorf("expected 2 remaining tasks, got %d", stats.ProcessQueued)
	}

	remaining := map[string]bool{}
	for {
		task, err := client.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if task == nil {
			break
		}
		remaining[task.ID] = true
	}
	if remaining[victim] {
		t.Error("canceled task still dequeued")
	}
	if !remaining[keep1] || !remaining[keep2] {
		t.Error("cancel removed the wrong task")
	}
}

func TestCancelUnknownAndAlreadyDequeued(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	removed, err := client.Cancel(ctx, "no-such-task")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if removed {
		t.Error("expected Cancel of unknown id to report not found")
	}

	id, _ := client.Enqueue(ctx, testPayload("http://x"), 3)
	if _, err := client.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	removed, err = client.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if removed {
		t.Error("expected Cancel of a claimed task to report not found")
	}
}

func TestUploadQueueFIFO(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	first := tasks.UploadJob{TaskID: "a", HookURL: "http://x", OutputPaths: []string{"/tmp/a.wav"}}
	second := tasks.UploadJob{TaskID: "b", HookURL: "http://x", OutputPaths: []string{"/tmp/b.wav"}}

	if err := client.PushUploadJob(ctx, first); err != nil {
		t.Fatalf("PushUploadJob failed: %v", err)
	}
	if err := client.PushUploadJob(ctx, second); err != nil {
		t.Fatalf("PushUploadJob failed: %v", err)
	}

	job, err := client.PopUploadJob(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopUploadJob failed: %v", err)
	}
	if job == nil || job.TaskID != "a" {
		t.Fatalf("expected job a first, got %+v", job)
	}

	job, err = client.PopUploadJob(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopUploadJob failed: %v", err)
	}
	if job == nil || job.TaskID != "b" {
		t.Fatalf("expected job b second, got %+v", job)
	}
}

func TestPopUploadJobTimeout(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	start := time.Now()
	job, err := client.PopUploadJob(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("PopUploadJob failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job, got %+v", job)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("expected PopUploadJob to block until the timeout")
	}
}
