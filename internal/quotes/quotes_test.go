package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingFetcher struct {
	calls atomic.Int64
	fail  bool
}

func (f *countingFetcher) Fetch(context.Context) (Sentence, error) {
	n := f.calls.Add(1)
	if f.fail {
		return Sentence{}, errors.New("offline")
	}
	return Sentence{Hitokoto: fmt.Sprintf("sentence %d", n), From: "test"}, nil
}

func TestRefill(t *testing.T) {
	tests := []struct {
		name      string
		fail      bool
		preload   int
		wantCalls int64
		wantFirst string
	}{
		{name: "Empty queue fills up", wantCalls: 10, wantFirst: "sentence 1"},
		{name: "Partly full queue tops up", preload: 7, wantCalls: 3, wantFirst: "preloaded"},
		{name: "Full queue fetches nothing", preload: 10, wantCalls: 0, wantFirst: "preloaded"},
		{name: "Failures use the default", fail: true, wantCalls: 10, wantFirst: DefaultSentence.Hitokoto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &countingFetcher{fail: tt.fail}
			queue := NewQueue(zap.NewNop().Sugar(), fetcher, 0)
			for range tt.preload {
				queue.add(Sentence{Hitokoto: "preloaded"})
			}

			queue.Refill(context.Background())

			if got := fetcher.calls.Load(); got != tt.wantCalls {
				t.Errorf("fetched %d times, want %d", got, tt.wantCalls)
			}
			if queue.Len() != DefaultCapacity {
				t.Errorf("Len() = %d, want %d", queue.Len(), DefaultCapacity)
			}

			first, err := queue.Take(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if first.Hitokoto != tt.wantFirst {
				t.Errorf("Take() = %q, want %q", first.Hitokoto, tt.wantFirst)
			}
		})
	}
}

func TestAddRespectsCapacity(t *testing.T) {
	queue := NewQueue(zap.NewNop().Sugar(), &countingFetcher{}, 2)
	for range 5 {
		queue.add(DefaultSentence)
	}

	if queue.Len() != 2 {
		t.Errorf("Len() = %d, want 2", queue.Len())
	}
}

func TestTakeWaitsForRefill(t *testing.T) {
	queue := NewQueue(zap.NewNop().Sugar(), &countingFetcher{}, 1)

	go func() {
		time.Sleep(150 * time.Millisecond)
		queue.add(Sentence{Hitokoto: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sentence, err := queue.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sentence.Hitokoto != "late" {
		t.Errorf("Take() = %q, want late", sentence.Hitokoto)
	}
}

func TestTakeGivesUpWithContext(t *testing.T) {
	queue := NewQueue(zap.NewNop().Sugar(), &countingFetcher{}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	if _, err := queue.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Take() error = %v, want DeadlineExceeded", err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{
			name:   "Valid",
			status: http.StatusOK,
			body:   `{"hitokoto":"hello","from":"somewhere","from_who":"someone"}`,
			want:   "hello",
		},
		{name: "Server error", status: http.StatusInternalServerError, body: `{}`, wantErr: true},
		{name: "Not json", status: http.StatusOK, body: `<html>`, wantErr: true},
		{name: "No sentence", status: http.StatusOK, body: `{"from":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sentence, err := NewHTTPFetcher(server.URL, nil).Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if sentence.Hitokoto != tt.want {
				t.Errorf("Fetch() = %q, want %q", sentence.Hitokoto, tt.want)
			}
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	fetcher := &countingFetcher{}
	queue := NewQueue(zap.NewNop().Sugar(), fetcher, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		queue.Run(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for queue.Len() < 3 {
		select {
		case <-deadline:
			t.Fatal("Run did not fill the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("Run did not return after cancel")
	}
}
