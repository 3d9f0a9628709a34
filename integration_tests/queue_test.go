package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/tasks"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d (or cmd/devredis) to be running.
func setupIntegrationRedis(t *testing.T) *queue.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear queues for clean state
	rdb.Del(context.Background(), queue.DefaultProcessQueueKey, queue.DefaultUploadQueueKey)

	return queue.New(queue.Config{Addr: "localhost:6379"})
}

func TestIntegrationFlow(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	// 1. Enqueue
	payload := tasks.Payload{
		Text:           "integration hello",
		Language:       "en",
		SpkAudioPrompt: "ref.wav",
		HookURL:        "http://localhost/hook",
	}
	taskID, err := client.Enqueue(ctx, payload, 2)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// 2. Dequeue
	task, err := client.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if task == nil {
		t.Fatal("Expected a task, got nil")
	}
	if task.ID != taskID {
		t.Errorf("Expected ID %s, got %s", taskID, task.ID)
	}
	if task.Payload.Text != payload.Text {
		t.Errorf("Expected text %q, got %q", payload.Text, task.Payload.Text)
	}

	// 3. Hand off to the upload queue
	job := tasks.UploadJob{
		TaskID:             task.ID,
		HookURL:            task.Payload.HookURL,
		OutputPaths:        []string{"/tmp/" + task.ID + "_output.wav"},
		CleanupAfterUpload: true,
	}
	if err := client.PushUploadJob(ctx, job); err != nil {
		t.Fatalf("PushUploadJob failed: %v", err)
	}

	popped, err := client.PopUploadJob(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopUploadJob failed: %v", err)
	}
	if popped == nil || popped.TaskID != task.ID {
		t.Fatalf("Expected upload job for %s, got %+v", task.ID, popped)
	}

	// Verify queues are empty
	depths, err := client.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths failed: %v", err)
	}
	if depths.ProcessQueued != 0 {
		t.Errorf("Expected process queue empty, got %d", depths.ProcessQueued)
	}
	if depths.UploadQueued != 0 {
		t.Errorf("Expected upload queue empty, got %d", depths.UploadQueued)
	}
}

func TestIntegrationCancel(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx := context.Background()

	taskID, err := client.Enqueue(ctx, tasks.Payload{
		Text:           "to be canceled",
		Language:       "en",
		SpkAudioPrompt: "ref.wav",
	}, 5)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	removed, err := client.Cancel(ctx, taskID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !removed {
		t.Error("Expected cancel to remove the queued task")
	}

	// A second cancel is a no-op
	removed, err = client.Cancel(ctx, taskID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if removed {
		t.Error("Expected second cancel to find nothing")
	}
}
