package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gql "github.com/graphql-go/graphql"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/store"
)

type failingStore struct {
	err error
}

func (s failingStore) Upsert(context.Context, store.Record) (store.Record, error) {
	return nil, s.err
}

func (s failingStore) Find(context.Context, store.Selector, *store.Order) ([]store.Record, error) {
	return nil, s.err
}

func newTestSchema(t *testing.T, channels, messages store.Store, count int) *gql.Schema {
	t.Helper()
	schema, err := New(Config{
		Channels:        channels,
		Messages:        messages,
		MessageCount:    count,
		MessageInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}
	return &schema
}

func run(t *testing.T, schema *gql.Schema, query string, variables map[string]interface{}) *gql.Result {
	t.Helper()
	eng := engine.New()
	doc, err := eng.Parse(query)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if errs := eng.Validate(schema, doc, nil); len(errs) > 0 {
		t.Fatalf("Validation failed: %v", errs)
	}
	return eng.Execute(context.Background(), engine.ExecuteParams{
		Schema:    schema,
		Document:  doc,
		Variables: variables,
	})
}

func TestNew_RequiresStores(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error without stores, got nil")
	}
}

func TestQueryMessages_Empty(t *testing.T) {
	schema := newTestSchema(t, store.NewMemoryStore(), store.NewMemoryStore(), 1)

	result := run(t, schema, "{ queryMessages { title } }", nil)
	if len(result.Errors) > 0 {
		t.Fatalf("Expected no errors, got %v", result.Errors)
	}
	data := result.Data.(map[string]interface{})
	if data["queryMessages"] != nil {
		t.Errorf("Expected null queryMessages, got %v", data["queryMessages"])
	}
}

func TestCreateChannel(t *testing.T) {
	channels := store.NewMemoryStore()
	schema := newTestSchema(t, channels, store.NewMemoryStore(), 1)

	result := run(t, schema, `mutation($name: String) { createChannel(name: $name) { id name } }`,
		map[string]interface{}{"name": "general"})
	if len(result.Errors) > 0 {
		t.Fatalf("Expected no errors, got %v", result.Errors)
	}

	created := result.Data.(map[string]interface{})["createChannel"].(map[string]interface{})
	if created["name"] != "general" {
		t.Errorf("Expected name general, got %v", created["name"])
	}
	if id, _ := created["id"].(string); id == "" {
		t.Error("Expected generated id, got empty")
	}
	if channels.Count() != 1 {
		t.Errorf("Expected 1 stored channel, got %d", channels.Count())
	}
}

func TestQueryMessages_FirstChannelSortedByTitleDesc(t *testing.T) {
	ctx := context.Background()
	channels := store.NewMemoryStore()
	messages := store.NewMemoryStore()

	first, _ := channels.Upsert(ctx, store.Record{"name": "first"})
	second, _ := channels.Upsert(ctx, store.Record{"name": "second"})

	for _, title := range []string{"b", "c", "a"} {
		_, _ = messages.Upsert(ctx, store.Record{"channel": first.ID(), "title": title})
	}
	_, _ = messages.Upsert(ctx, store.Record{"channel": second.ID(), "title": "z"})

	schema := newTestSchema(t, channels, messages, 1)
	result := run(t, schema, "{ queryMessages { title channel } }", nil)
	if len(result.Errors) > 0 {
		t.Fatalf("Expected no errors, got %v", result.Errors)
	}

	list := result.Data.(map[string]interface{})["queryMessages"].([]interface{})
	if len(list) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(list))
	}
	for i, want := range []string{"c", "b", "a"} {
		msg := list[i].(map[string]interface{})
		if msg["title"] != want {
			t.Errorf("Expected title %s at %d, got %v", want, i, msg["title"])
		}
		if msg["channel"] != first.ID() {
			t.Errorf("Expected message from first channel, got %v", msg["channel"])
		}
	}
}

func TestQueryMessages_StoreFailure(t *testing.T) {
	failing := failingStore{err: errors.New("store unavailable")}
	schema := newTestSchema(t, failing, failing, 1)

	result := run(t, schema, "{ queryMessages { title } }", nil)
	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 error, got %v", result.Errors)
	}
	if result.Errors[0].Message != "store unavailable" {
		t.Errorf("Expected store error, got %q", result.Errors[0].Message)
	}
}

func subscribe(t *testing.T, schema *gql.Schema, ctx context.Context) engine.ResultStream {
	t.Helper()
	eng := engine.New()
	doc, err := eng.Parse(`subscription { writeMessages(channel: "c1") { title content channel createdAt } }`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return eng.Subscribe(ctx, engine.ExecuteParams{Schema: schema, Document: doc})
}

func TestWriteMessages_EmitsInOrder(t *testing.T) {
	messages := store.NewMemoryStore()
	schema := newTestSchema(t, store.NewMemoryStore(), messages, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, schema, ctx)
	defer stream.Close() //nolint:errcheck // test cleanup

	for i := 0; i < 3; i++ {
		result, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if len(result.Errors) > 0 {
			t.Fatalf("Unexpected errors: %v", result.Errors)
		}
		msg := result.Data.(map[string]interface{})["writeMessages"].(map[string]interface{})
		if msg["title"] != fmt.Sprintf("title%d", i) {
			t.Errorf("Expected title%d, got %v", i, msg["title"])
		}
		if msg["content"] != fmt.Sprintf("content%d", i) {
			t.Errorf("Expected content%d, got %v", i, msg["content"])
		}
		if msg["channel"] != "c1" {
			t.Errorf("Expected channel c1, got %v", msg["channel"])
		}
	}

	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if messages.Count() != 3 {
		t.Errorf("Expected 3 stored messages, got %d", messages.Count())
	}
}

func TestWriteMessages_StoreFailureAborts(t *testing.T) {
	failing := failingStore{err: errors.New("store unavailable")}
	schema := newTestSchema(t, store.NewMemoryStore(), failing, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := subscribe(t, schema, ctx)
	defer stream.Close() //nolint:errcheck // test cleanup

	_, err := stream.Next(ctx)
	var streamErr *engine.StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected *engine.StreamError, got %v", err)
	}
	if streamErr.Errors[0].Message != "store unavailable" {
		t.Errorf("Expected store error, got %q", streamErr.Errors[0].Message)
	}
}

func TestWriteMessages_StopsOnCancel(t *testing.T) {
	messages := store.NewMemoryStore()
	schema := newTestSchema(t, store.NewMemoryStore(), messages, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	stream := subscribe(t, schema, ctx)

	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Expected first event, got %v", err)
	}
	cancel()
	_ = stream.Close()

	time.Sleep(50 * time.Millisecond)
	stored := messages.Count()
	time.Sleep(50 * time.Millisecond)
	if messages.Count() != stored {
		t.Errorf("Expected writes to stop after cancel, went from %d to %d", stored, messages.Count())
	}
}
