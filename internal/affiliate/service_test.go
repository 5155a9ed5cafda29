package affiliate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"affiliatehub/internal/common/database"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnboardAndSuspend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, discardLogger())

	a, err := svc.Onboard(ctx, OnboardRequest{UserID: "user-7", Code: "AFF7", CommissionRate: "0.3"})
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	if a.Level != 1 || !a.IsActive() || a.CommissionRate == nil || a.CommissionRate.String() != "0.3" {
		t.Errorf("affiliate = %+v", a)
	}

	if _, err := svc.Onboard(ctx, OnboardRequest{UserID: "user-8", Code: "AFF7"}); !errors.Is(err, ErrCodeTaken) {
		t.Errorf("duplicate code err = %v", err)
	}

	suspended, err := svc.Suspend(ctx, a.ID, "ops")
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended.IsActive() {
		t.Error("affiliate still active after suspension")
	}

	byCode, err := store.GetByCode(ctx, "AFF7")
	if err != nil || byCode.Status != StatusSuspended {
		t.Errorf("GetByCode = %+v, %v", byCode, err)
	}

	if _, err := svc.Suspend(ctx, "missing", "ops"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing suspend err = %v", err)
	}
}

func TestOnboardRejectsOutOfRangeRate(t *testing.T) {
	svc := NewService(NewMemoryStore(), discardLogger())
	if _, err := svc.Onboard(context.Background(), OnboardRequest{UserID: "u", Code: "CODE1", CommissionRate: "1.2"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	a, _ := NewAffiliate("aff-1", "user-1", "AFF1", 1)
	if err := backing.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cached := NewCachedStore(backing, client, time.Minute, discardLogger())

	got, err := cached.GetByCode(ctx, "AFF1")
	if err != nil || got.ID != "aff-1" {
		t.Fatalf("GetByCode = %+v, %v", got, err)
	}

	updated, err := cached.UpdateStatus(ctx, "aff-1", StatusSuspended)
	if err != nil || updated.Status != StatusSuspended {
		t.Fatalf("UpdateStatus = %+v, %v", updated, err)
	}

	if _, err := cached.GetByCode(ctx, "NOPE"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing code err = %v", err)
	}
}

func TestCachedStoreEvictsOnSuspend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backing := NewMemoryStore()
	a, _ := NewAffiliate("aff-7", "user-7", "AFF7", 1)
	if err := backing.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	cached := NewCachedStore(backing, client, time.Minute, discardLogger())
	svc := NewService(cached, discardLogger())

	got, err := cached.GetByCode(ctx, "AFF7")
	if err != nil || !got.IsActive() {
		t.Fatalf("GetByCode = %+v, %v", got, err)
	}
	if !mr.Exists(codeKey("AFF7")) {
		t.Fatal("lookup was not written back to redis")
	}
	if ttl := mr.TTL(codeKey("AFF7")); ttl != time.Minute {
		t.Errorf("cache ttl = %v, want 1m", ttl)
	}

	// a change behind the cache's back stays invisible until eviction
	if _, err := backing.UpdateStatus(ctx, "aff-7", StatusSuspended); err != nil {
		t.Fatal(err)
	}
	if got, _ := cached.GetByCode(ctx, "AFF7"); !got.IsActive() {
		t.Fatal("expected cached active entry to be served")
	}
	if _, err := backing.UpdateStatus(ctx, "aff-7", StatusActive); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Suspend(ctx, "aff-7", "admin"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if mr.Exists(codeKey("AFF7")) {
		t.Error("suspend did not evict the cached code")
	}
	got, err = cached.GetByCode(ctx, "AFF7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusSuspended {
		t.Errorf("status after suspend = %s, want suspended", got.Status)
	}
}
