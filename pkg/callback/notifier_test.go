package callback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps retry waits in the low milliseconds so tests run quickly.
func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestSendSucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(fastConfig(10), zerolog.Nop())
	err := n.NotifySuccess(context.Background(), srv.URL, "task-1", "https://cdn.example.com/task-1.wav")

	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestSendGivesUpOnPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(fastConfig(10), zerolog.Nop())
	err := n.NotifySuccess(context.Background(), srv.URL, "task-1", "u")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent failures must not be retried")
}

func TestSendRetriesRetryableClientStatuses(t *testing.T) {
	statuses := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls.Add(1)
		if int(i) <= len(statuses) {
			w.WriteHeader(statuses[i-1])
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(fastConfig(10), zerolog.Nop())
	err := n.NotifyFailure(context.Background(), srv.URL, "task-1", "boom", "")

	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestSendExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(fastConfig(3), zerolog.Nop())
	err := n.NotifySuccess(context.Background(), srv.URL, "task-1", "u")

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendSkipsEmptyHookURL(t *testing.T) {
	n := New(fastConfig(3), zerolog.Nop())
	require.NoError(t, n.NotifySuccess(context.Background(), "", "task-1", "u"))
}

func TestSendCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := New(Config{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, RequestTimeout: time.Second}, zerolog.Nop())
	err := n.NotifySuccess(ctx, srv.URL, "task-1", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSuccessPayloadShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(fastConfig(1), zerolog.Nop())
	require.NoError(t, n.NotifySuccess(context.Background(), srv.URL, "task-9", "https://cdn.example.com/a.wav"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "task-9", got["task_uuid"])
	assert.Equal(t, StatusSuccess, got["status"])
	assert.Equal(t, "https://cdn.example.com/a.wav", got["s3_url"])
	assert.NotZero(t, got["timestamp"])
	assert.NotContains(t, got, "error_message")
	assert.NotContains(t, got, "error_code")
	assert.NotContains(t, got, "urls")
}

func TestFailurePayloadShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(fastConfig(1), zerolog.Nop())
	require.NoError(t, n.NotifyFailure(context.Background(), srv.URL, "task-9",
		"Voice clone failed: audio too quiet", "AUDIO_TOO_QUIET"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, StatusFailed, got["status"])
	assert.Equal(t, "Voice clone failed: audio too quiet", got["error_message"])
	assert.Equal(t, "AUDIO_TOO_QUIET", got["error_code"])
	assert.NotContains(t, got, "s3_url")
}

func TestBatchPayloadShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	urls := map[string]string{
		"task-9/a.wav": "https://cdn.example.com/task-9/a.wav",
		"task-9/b.wav": "https://cdn.example.com/task-9/b.wav",
	}
	n := New(fastConfig(1), zerolog.Nop())
	require.NoError(t, n.NotifySuccessBatch(context.Background(), srv.URL, "task-9", urls))

	var got Payload
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, urls, got.URLs)
	assert.Empty(t, got.S3URL)
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusOK, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.permanent, isPermanent(tc.status), "status %d", tc.status)
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	n := New(Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}, zerolog.Nop())

	for attempt := 1; attempt < 10; attempt++ {
		d := n.backoff(attempt)
		assert.LessOrEqual(t, d, 60*time.Second, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, time.Second, "attempt %d", attempt)
	}
}
