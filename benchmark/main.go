// Package main provides a benchmark tool for the voicepipe queue to measure
// enqueue and drain throughput.
//
// Usage:
//
//	go run benchmark/main.go -tasks 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/tasks"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	addr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	client := queue.New(queue.Config{Addr: *addr})
	ctx := context.Background()

	fmt.Printf("Voicepipe Queue Benchmark\n")
	fmt.Printf("=========================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent workers: %d\n\n", *numWorkers)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				payload := tasks.Payload{
					Text:           fmt.Sprintf("benchmark worker %d task %d", workerID, j),
					Language:       "en",
					SpkAudioPrompt: "benchmark.wav",
				}
				priority := 1 + (j % tasks.PriorityMax)
				if _, err := client.Enqueue(ctx, payload, priority); err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	// Drain phase
	fmt.Printf("Starting drain phase...\n")
	startDrain := time.Now()

	var drained atomic.Int64
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := client.Dequeue(ctx)
				if err != nil {
					fmt.Printf("Error dequeuing: %v\n", err)
					return
				}
				if task == nil {
					return
				}
				drained.Add(1)
			}
		}()
	}

	wg.Wait()
	drainTime := time.Since(startDrain)

	fmt.Printf("✓ Drained %d tasks in %s\n", drained.Load(), drainTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", float64(drained.Load())/drainTime.Seconds())

	totalTime := enqueueTime + drainTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(*numTasks)/totalTime.Seconds())
}
