package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultCapacity = 10
	DefaultURL      = "https://international.v1.hitokoto.cn"

	pollInterval = 100 * time.Millisecond
)

type Sentence struct {
	Hitokoto string  `json:"hitokoto"`
	From     string  `json:"from"`
	FromWho  *string `json:"from_who"`
}

// DefaultSentence stands in for every fetch that fails.
var DefaultSentence = Sentence{
	Hitokoto: "历史的每一天都值得被铭记",
	From:     "未知",
}

type Fetcher interface {
	Fetch(ctx context.Context) (Sentence, error)
}

// Queue keeps up to capacity sentences ready so a verification email never
// waits on the quote service.
type Queue struct {
	sugar    *zap.SugaredLogger
	fetcher  Fetcher
	capacity int

	mutex sync.Mutex
	items []Sentence
}

func NewQueue(sugar *zap.SugaredLogger, fetcher Fetcher, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		sugar:    sugar,
		fetcher:  fetcher,
		capacity: capacity,
		items:    make([]Sentence, 0, capacity),
	}
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Take removes the oldest sentence, polling every 100ms while the queue is
// empty. It only gives up when ctx is done.
func (q *Queue) Take(ctx context.Context) (Sentence, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		q.mutex.Lock()
		if len(q.items) > 0 {
			sentence := q.items[0]
			q.items = q.items[1:]
			q.mutex.Unlock()
			return sentence, nil
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return Sentence{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) add(sentence Sentence) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	// concurrent refills may race past capacity otherwise
	if len(q.items) < q.capacity {
		q.items = append(q.items, sentence)
	}
}

// Refill fetches capacity - len sentences. The lock is not held while
// fetching, so Take keeps working during a slow refill.
func (q *Queue) Refill(ctx context.Context) {
	needed := q.capacity - q.Len()

	for range max(needed, 0) {
		sentence, err := q.fetcher.Fetch(ctx)
		if err != nil {
			q.sugar.Warnw("fetching sentence failed, using the default", "error", err)
			sentence = DefaultSentence
		}
		q.add(sentence)
	}
}

// Run refills right away and then on every tick until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		q.Refill(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPFetcher{url: url, client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Sentence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Sentence{}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Sentence{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sentence{}, fmt.Errorf("quote service returned status %d", resp.StatusCode)
	}

	var sentence Sentence
	if err := json.NewDecoder(resp.Body).Decode(&sentence); err != nil {
		return Sentence{}, err
	}
	if sentence.Hitokoto == "" {
		return Sentence{}, fmt.Errorf("quote service returned no sentence")
	}
	return sentence, nil
}
