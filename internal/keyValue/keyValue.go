package keyValue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable means the backing store could not answer, which is never the
// same thing as a key being absent.
var ErrUnavailable = errors.New("key-value store unavailable")

type value struct {
	value   string
	expires time.Time
}

func (v value) expired(now time.Time) bool {
	return !v.expires.IsZero() && !v.expires.After(now)
}

// Store is backed by redis, or by a local hashmap when running self contained.
// Both are safe for concurrent use.
type Store struct {
	sugar       *zap.SugaredLogger
	redisClient *redis.Client

	mutex   sync.RWMutex
	hashmap map[string]value
}

func NewRedis(sugar *zap.SugaredLogger, redisClient *redis.Client) *Store {
	return &Store{
		sugar:       sugar,
		redisClient: redisClient,
	}
}

// NewLocal keeps everything in memory. Expired keys are swept every minute
// until ctx is done.
func NewLocal(ctx context.Context, sugar *zap.SugaredLogger) *Store {
	s := &Store{
		sugar:   sugar,
		hashmap: make(map[string]value),
	}
	go s.checkForLocalExpiredKeys(ctx, time.Minute)
	return s
}

func (s *Store) selfContained() bool {
	return s.redisClient == nil
}

func (s *Store) checkForLocalExpiredKeys(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for key, v := range s.hashmap {
		if v.expired(now) {
			delete(s.hashmap, key)
		}
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (s *Store) Ping(ctx context.Context) error {
	if s.selfContained() {
		return nil
	}
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns "" for a missing key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.selfContained() {
		s.sugar.Debugf("Getting value of key [%s] from hashmap", key)

		s.mutex.RLock()
		defer s.mutex.RUnlock()

		v, ok := s.hashmap[key]
		if !ok || v.expired(time.Now()) {
			return "", nil
		}
		return v.value, nil
	}

	s.sugar.Debugf("Getting value of key [%s] from redis", key)

	result, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", unavailable(err)
	}
	return result, nil
}

func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	if s.selfContained() {
		s.sugar.Debugf("Getting and deleting value of key [%s] from hashmap", key)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		v, ok := s.hashmap[key]
		delete(s.hashmap, key)
		if !ok || v.expired(time.Now()) {
			return "", nil
		}
		return v.value, nil
	}

	s.sugar.Debugf("Getting and deleting value of key [%s] from redis", key)

	result, err := s.redisClient.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", unavailable(err)
	}
	return result, nil
}

// Set stores key with the given lifetime, zero or less means it never expires.
func (s *Store) Set(ctx context.Context, key string, val string, expires time.Duration) error {
	if expires < 0 {
		expires = 0
	}

	if s.selfContained() {
		s.sugar.Debugf("Setting key [%s] in hashmap for %s", key, expires)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		v := value{value: val}
		if expires > 0 {
			v.expires = time.Now().Add(expires)
		}
		s.hashmap[key] = v
		return nil
	}

	s.sugar.Debugf("Setting key [%s] in redis for %s", key, expires)

	if err := s.redisClient.Set(ctx, key, val, expires).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if s.selfContained() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		delete(s.hashmap, key)
		return nil
	}

	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	found, err := s.ExistsMany(ctx, []string{key})
	if err != nil {
		return false, err
	}
	return found[0], nil
}

// ExistsMany checks every key in one round trip. The result lines up with
// keys index by index.
func (s *Store) ExistsMany(ctx context.Context, keys []string) ([]bool, error) {
	found := make([]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	if s.selfContained() {
		s.mutex.RLock()
		defer s.mutex.RUnlock()

		now := time.Now()
		for i, key := range keys {
			v, ok := s.hashmap[key]
			found[i] = ok && !v.expired(now)
		}
		return found, nil
	}

	pipe := s.redisClient.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Exists(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	for i, cmd := range cmds {
		found[i] = cmd.Val() > 0
	}
	return found, nil
}

// TTL reports the remaining lifetime of key, zero when it is missing or has
// no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s.selfContained() {
		s.mutex.RLock()
		defer s.mutex.RUnlock()

		v, ok := s.hashmap[key]
		if !ok || v.expires.IsZero() {
			return 0, nil
		}
		return max(time.Until(v.expires), 0), nil
	}

	ttl, err := s.redisClient.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
