package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CacheManager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCacheManager(client), mr
}

type cachedSummary struct {
	StudentID     uint    `json:"student_id"`
	LowPointCount int     `json:"low_point_count"`
	Average       float64 `json:"average"`
}

func TestCacheHelper_SetAndGet(t *testing.T) {
	cm, _ := newTestCache(t)
	ctx := context.Background()

	value := cachedSummary{StudentID: 1, LowPointCount: 3, Average: 71.5}
	if err := cm.Summary.Set(ctx, "student:1:class:1:term:1", value, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got cachedSummary
	if err := cm.Summary.Get(ctx, "student:1:class:1:term:1", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != value {
		t.Errorf("Expected %+v, got %+v", value, got)
	}
}

func TestCacheHelper_GetMissingKey(t *testing.T) {
	cm, _ := newTestCache(t)

	var got cachedSummary
	err := cm.Summary.Get(context.Background(), "student:404", &got)
	if !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Expected cache miss, got %v", err)
	}
}

func TestCacheHelper_CacheOrExecute(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return &cachedSummary{StudentID: 1, LowPointCount: 2, Average: 83.0}, nil
	}

	var first cachedSummary
	if err := cm.Flags.CacheOrExecute(ctx, "class:1:term:1", &first, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected one fetch, got %d", calls)
	}
	if first.Average != 83.0 {
		t.Errorf("Expected fetched value, got %+v", first)
	}

	// The async write-back has to land before the second read
	deadline := time.Now().Add(time.Second)
	for !mr.Exists(FlagsCacheConfig.Prefix + "class:1:term:1") {
		if time.Now().After(deadline) {
			t.Fatal("Cache write-back never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var second cachedSummary
	if err := cm.Flags.CacheOrExecute(ctx, "class:1:term:1", &second, time.Minute, fetch); err != nil {
		t.Fatalf("Second CacheOrExecute failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Second call should hit the cache, fetch count %d", calls)
	}
	if second != first {
		t.Errorf("Expected cached %+v, got %+v", first, second)
	}
}

func TestCacheHelper_CacheOrExecute_FetchError(t *testing.T) {
	cm, _ := newTestCache(t)

	var dest cachedSummary
	wantErr := errors.New("storage down")
	err := cm.Summary.CacheOrExecute(context.Background(), "key", &dest, time.Minute, func() (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected wrapped fetch error, got %v", err)
	}
}

func TestCacheHelper_InvalidatePattern(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"class:1:term:1", "class:1:term:2", "class:2:term:1"} {
		if err := cm.Flags.Set(ctx, key, cachedSummary{}, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := cm.Flags.InvalidatePattern(ctx, "class:1:*"); err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}

	if mr.Exists(FlagsCacheConfig.Prefix + "class:1:term:1") {
		t.Error("Matching key should be gone")
	}
	if !mr.Exists(FlagsCacheConfig.Prefix + "class:2:term:1") {
		t.Error("Non-matching key should survive")
	}
}

func TestInvalidateGradeCache(t *testing.T) {
	cm, mr := newTestCache(t)
	ctx := context.Background()

	seeds := map[*CacheHelper]string{
		cm.Grade:     "id:7",
		cm.Summary:   "class:1:term:1",
		cm.Flags:     "class:1:term:1",
		cm.Dashboard: "stats:term:1",
	}
	for helper, key := range seeds {
		if err := helper.Set(ctx, key, cachedSummary{}, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	InvalidateGradeCache(ctx, cm, 7, 1, 1, 1)

	for helper, key := range seeds {
		if mr.Exists(helper.GetCacheKey(key)) {
			t.Errorf("Expected %s to be invalidated", helper.GetCacheKey(key))
		}
	}
}

func TestCacheManager_NilClientDegradesGracefully(t *testing.T) {
	cm := NewCacheManager(nil)
	ctx := context.Background()

	if err := cm.Summary.Set(ctx, "key", cachedSummary{}, time.Minute); err != nil {
		t.Errorf("Set without cache should be a no-op, got %v", err)
	}

	var dest cachedSummary
	if err := cm.Summary.Get(ctx, "key", &dest); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Expected cache not available, got %v", err)
	}

	calls := 0
	err := cm.Summary.CacheOrExecute(ctx, "key", &dest, time.Minute, func() (interface{}, error) {
		calls++
		return &cachedSummary{StudentID: 9}, nil
	})
	if err != nil {
		t.Fatalf("CacheOrExecute without cache failed: %v", err)
	}
	if calls != 1 || dest.StudentID != 9 {
		t.Errorf("Expected fetch fallthrough, calls=%d dest=%+v", calls, dest)
	}
}
