package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreUpsertAssignsID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Upsert(ctx, Record{"name": "general"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if rec.ID() == "" {
		t.Fatal("Expected generated id, got empty")
	}
	if _, err := uuid.Parse(rec.ID()); err != nil {
		t.Errorf("Expected uuid id, got '%s'", rec.ID())
	}
	if rec["name"] != "general" {
		t.Errorf("Expected name 'general', got %v", rec["name"])
	}
}

func TestMemoryStoreUpsertMerges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Upsert(ctx, Record{"name": "general", "topic": "chat"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	merged, err := s.Upsert(ctx, Record{IDField: first.ID(), "topic": "news"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if merged["name"] != "general" {
		t.Errorf("Expected name to survive merge, got %v", merged["name"])
	}
	if merged["topic"] != "news" {
		t.Errorf("Expected topic 'news', got %v", merged["topic"])
	}
	if s.Count() != 1 {
		t.Errorf("Expected 1 record, got %d", s.Count())
	}
}

func TestMemoryStoreUpsertDoesNotAliasInput(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	input := Record{"name": "general"}
	if _, err := s.Upsert(ctx, input); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, ok := input[IDField]; ok {
		t.Error("Expected caller record to stay unmodified")
	}
}

func TestMemoryStoreFind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, title := range []string{"b", "c", "a"} {
		if _, err := s.Upsert(ctx, Record{"title": title, "channel": "1"}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if _, err := s.Upsert(ctx, Record{"title": "z", "channel": "2"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	all, err := s.Find(ctx, Selector{}, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(all))
	}
	if all[0]["title"] != "b" {
		t.Errorf("Expected insertion order, got first title %v", all[0]["title"])
	}

	desc, err := s.Find(ctx, Selector{"channel": "1"}, &Order{Field: "title", Descending: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(desc) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(desc))
	}
	for i, want := range []string{"c", "b", "a"} {
		if desc[i]["title"] != want {
			t.Errorf("Expected title %s at %d, got %v", want, i, desc[i]["title"])
		}
	}
}

func TestMemoryStoreConcurrentUpserts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Upsert(ctx, Record{"n": i}); err != nil {
				t.Errorf("Upsert failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s.Count() != 50 {
		t.Errorf("Expected 50 records, got %d", s.Count())
	}
}

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := NewRedisClient(RedisConfig{Address: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
		return nil
	}

	return client
}

func TestRedisStoreUpsertAndFind(t *testing.T) {
	client := getTestRedisClient(t)
	if client == nil {
		return
	}
	defer client.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	s := NewRedisStore(client, "test:gateway:", fmt.Sprintf("messages-%d", time.Now().UnixNano()))
	defer s.Clear(ctx) //nolint:errcheck // test cleanup

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	first, err := s.Upsert(ctx, Record{"title": "a", "channel": "1"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if first.ID() == "" {
		t.Fatal("Expected generated id")
	}
	if _, err := s.Upsert(ctx, Record{"title": "b", "channel": "1"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := s.Upsert(ctx, Record{IDField: first.ID(), "extra": "x"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	found, err := s.Find(ctx, Selector{"channel": "1"}, &Order{Field: "title", Descending: true})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(found))
	}
	if found[0]["title"] != "b" {
		t.Errorf("Expected title 'b' first, got %v", found[0]["title"])
	}
	if found[1]["extra"] != "x" || found[1]["title"] != "a" {
		t.Errorf("Expected merged record, got %v", found[1])
	}
}
