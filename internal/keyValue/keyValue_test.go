package keyValue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(zap.NewNop().Sugar(), client), mr
}

func newLocalStore(t *testing.T) *Store {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return NewLocal(ctx, zap.NewNop().Sugar())
}

func TestSetGetDel(t *testing.T) {
	redisStore, _ := newRedisStore(t)

	stores := []struct {
		name  string
		store *Store
	}{
		{name: "redis", store: redisStore},
		{name: "local", store: newLocalStore(t)},
	}

	ctx := context.Background()

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.store.Set(ctx, "a", "1", time.Hour); err != nil {
				t.Fatal(err)
			}

			got, err := tt.store.Get(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if got != "1" {
				t.Errorf("Get() = %q, want %q", got, "1")
			}

			missing, err := tt.store.Get(ctx, "missing")
			if err != nil {
				t.Fatal(err)
			}
			if missing != "" {
				t.Errorf("Get() on missing key = %q, want empty", missing)
			}

			if err := tt.store.Del(ctx, "a"); err != nil {
				t.Fatal(err)
			}
			exists, err := tt.store.Exists(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if exists {
				t.Error("key still exists after Del")
			}
		})
	}
}

func TestGetDelConsumesKey(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "code", "123456", time.Minute); err != nil {
		t.Fatal(err)
	}

	first, _ := store.GetDel(ctx, "code")
	second, _ := store.GetDel(ctx, "code")

	if first != "123456" || second != "" {
		t.Errorf("GetDel() = %q then %q, want %q then empty", first, second, "123456")
	}
}

func TestExistsManyKeepsOrder(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	ctx := context.Background()

	for _, store := range []*Store{redisStore, newLocalStore(t)} {
		_ = store.Set(ctx, "b", "x", time.Hour)
		_ = store.Set(ctx, "d", "x", time.Hour)

		found, err := store.ExistsMany(ctx, []string{"a", "b", "c", "d"})
		if err != nil {
			t.Fatal(err)
		}

		want := []bool{false, true, false, true}
		for i := range want {
			if found[i] != want[i] {
				t.Errorf("ExistsMany()[%d] = %v, want %v", i, found[i], want[i])
			}
		}
	}
}

func TestRedisExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "short", "x", 10*time.Second); err != nil {
		t.Fatal(err)
	}

	ttl, err := store.TTL(ctx, "short")
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("TTL() = %s, want within (0, 10s]", ttl)
	}

	mr.FastForward(11 * time.Second)

	exists, err := store.Exists(ctx, "short")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("key survived its ttl")
	}
}

func TestLocalSweep(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "old", "x", time.Millisecond)
	_ = store.Set(ctx, "forever", "x", 0)

	store.sweep(time.Now().Add(time.Second))

	store.mutex.RLock()
	_, oldFound := store.hashmap["old"]
	_, foreverFound := store.hashmap["forever"]
	store.mutex.RUnlock()

	if oldFound {
		t.Error("expired key was not swept")
	}
	if !foreverFound {
		t.Error("key without expiry was swept")
	}
}

func TestRedisUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	ctx := context.Background()

	if _, err := store.Exists(ctx, "a"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Exists() error = %v, want ErrUnavailable", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
	if err := store.Set(ctx, "a", "1", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set() error = %v, want ErrUnavailable", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping() error = %v, want ErrUnavailable", err)
	}
}
