package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/visitor"
)

func testSchema(t *testing.T, events func(ctx context.Context) chan interface{}) *gql.Schema {
	t.Helper()

	schema, err := gql.NewSchema(gql.SchemaConfig{
		Query: gql.NewObject(gql.ObjectConfig{
			Name: "Query",
			Fields: gql.Fields{
				"hello": &gql.Field{
					Type: gql.String,
					Resolve: func(p gql.ResolveParams) (interface{}, error) {
						return "world", nil
					},
				},
				"greeting": &gql.Field{Type: gql.String},
			},
		}),
		Mutation: gql.NewObject(gql.ObjectConfig{
			Name: "Mutation",
			Fields: gql.Fields{
				"noop": &gql.Field{Type: gql.Boolean},
			},
		}),
		Subscription: gql.NewObject(gql.ObjectConfig{
			Name: "Subscription",
			Fields: gql.Fields{
				"counter": &gql.Field{
					Type: gql.Int,
					Subscribe: func(p gql.ResolveParams) (interface{}, error) {
						return events(p.Context), nil
					},
					Resolve: func(p gql.ResolveParams) (interface{}, error) {
						if err, ok := p.Source.(error); ok {
							return nil, err
						}
						return p.Source, nil
					},
				},
				"strictCounter": &gql.Field{
					Type: gql.NewNonNull(gql.Int),
					Subscribe: func(p gql.ResolveParams) (interface{}, error) {
						return events(p.Context), nil
					},
					Resolve: func(p gql.ResolveParams) (interface{}, error) {
						if err, ok := p.Source.(error); ok {
							return nil, err
						}
						return p.Source, nil
					},
				},
				"broken": &gql.Field{
					Type: gql.Int,
					Subscribe: func(p gql.ResolveParams) (interface{}, error) {
						return nil, errors.New("source unavailable")
					},
				},
			},
		}),
	})
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}
	return &schema
}

func counting(n int) func(ctx context.Context) chan interface{} {
	return func(ctx context.Context) chan interface{} {
		ch := make(chan interface{})
		go func() {
			defer close(ch)
			for i := 0; i < n; i++ {
				select {
				case ch <- i:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	}
}

func TestParse(t *testing.T) {
	eng := New()

	doc, err := eng.Parse("{ hello }")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(doc.Definitions) != 1 {
		t.Errorf("Expected 1 definition, got %d", len(doc.Definitions))
	}

	_, err = eng.Parse("{ hello")
	if err == nil {
		t.Fatal("Expected syntax error, got nil")
	}
	var located *gqlerrors.Error
	if !errors.As(err, &located) {
		t.Fatalf("Expected *gqlerrors.Error, got %T", err)
	}
	if len(located.Locations) == 0 {
		t.Error("Expected syntax error to carry locations")
	}
}

func TestValidateSchema(t *testing.T) {
	eng := New()

	errs := eng.ValidateSchema(nil)
	if len(errs) != 1 || errs[0].Message != "Expected a GraphQL schema." {
		t.Errorf("Expected missing schema error, got %v", errs)
	}

	if errs := eng.ValidateSchema(testSchema(t, counting(0))); len(errs) != 0 {
		t.Errorf("Expected valid schema, got %v", errs)
	}
}

func TestValidate(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(0))

	doc, err := eng.Parse("{ hello unknown }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	errs := eng.Validate(schema, doc, nil)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 validation error, got %d: %v", len(errs), errs)
	}
	if !strings.HasPrefix(errs[0].Message, `Cannot query field "unknown" on type "Query".`) {
		t.Errorf("Unexpected message: %s", errs[0].Message)
	}
}

func TestValidate_ExtraRules(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(0))

	called := false
	rule := func(context *gql.ValidationContext) *gql.ValidationRuleInstance {
		called = true
		return &gql.ValidationRuleInstance{VisitorOpts: &visitor.VisitorOptions{}}
	}

	doc, err := eng.Parse("{ hello }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if errs := eng.Validate(schema, doc, []gql.ValidationRuleFn{rule}); len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
	if !called {
		t.Error("Expected extra rule to run")
	}
}

func TestOperationType(t *testing.T) {
	eng := New()

	tests := []struct {
		name          string
		query         string
		operationName string
		want          string
	}{
		{"shorthand query", "{ hello }", "", "query"},
		{"mutation", "mutation { noop }", "", "mutation"},
		{"subscription", "subscription { counter }", "", "subscription"},
		{"named selection", "query A { hello } mutation B { noop }", "B", "mutation"},
		{"ambiguous", "query A { hello } mutation B { noop }", "", ""},
		{"unknown name", "query A { hello }", "C", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := eng.Parse(tt.query)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got := OperationType(doc, tt.operationName); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExecute_FieldResolver(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(0))

	doc, err := eng.Parse("{ hello greeting }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	result := eng.Execute(context.Background(), ExecuteParams{
		Schema:    schema,
		Document:  doc,
		RootValue: "root",
		FieldResolver: func(p gql.ResolveParams) (interface{}, error) {
			return p.Info.FieldName + " from " + p.Source.(string), nil
		},
	})
	if len(result.Errors) > 0 {
		t.Fatalf("Expected no errors, got %v", result.Errors)
	}

	data := result.Data.(map[string]interface{})
	if data["hello"] != "world" {
		t.Errorf("Expected own resolver to win, got %v", data["hello"])
	}
	if data["greeting"] != "greeting from root" {
		t.Errorf("Expected field resolver result, got %v", data["greeting"])
	}
}

func TestSubscribe_InOrder(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(5))

	doc, err := eng.Parse("subscription { counter }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := eng.Subscribe(ctx, ExecuteParams{Schema: schema, Document: doc})
	defer stream.Close() //nolint:errcheck // test cleanup

	for i := 0; i < 5; i++ {
		result, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		got := result.Data.(map[string]interface{})["counter"]
		if got != i {
			t.Errorf("Expected counter %d, got %v", i, got)
		}
	}

	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after exhaustion, got %v", err)
	}
}

func TestSubscribe_Abort(t *testing.T) {
	eng := New()
	schema := testSchema(t, func(ctx context.Context) chan interface{} {
		ch := make(chan interface{})
		go func() {
			defer close(ch)
			for _, event := range []interface{}{1, Abort(errors.New("store unavailable")), 3} {
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	})

	doc, err := eng.Parse("subscription { counter }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := eng.Subscribe(ctx, ExecuteParams{Schema: schema, Document: doc})
	defer stream.Close() //nolint:errcheck // test cleanup

	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Expected first event, got %v", err)
	}

	_, err = stream.Next(ctx)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected *StreamError, got %v", err)
	}
	if len(streamErr.Errors) != 1 || streamErr.Errors[0].Message != "store unavailable" {
		t.Errorf("Unexpected stream errors: %v", streamErr.Errors)
	}

	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after error, got %v", err)
	}
}

func TestSubscribe_Close(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(1000))

	doc, err := eng.Parse("subscription { counter }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	stream := eng.Subscribe(context.Background(), ExecuteParams{Schema: schema, Document: doc})
	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Expected first event, got %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}
}

func TestSubscribe_NullDataFieldErrorContinues(t *testing.T) {
	eng := New()
	schema := testSchema(t, func(ctx context.Context) chan interface{} {
		ch := make(chan interface{})
		go func() {
			defer close(ch)
			for _, event := range []interface{}{1, errors.New("bad event"), 3} {
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	})

	doc, err := eng.Parse("subscription { strictCounter }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := eng.Subscribe(ctx, ExecuteParams{Schema: schema, Document: doc})
	defer stream.Close() //nolint:errcheck // test cleanup

	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Expected first event, got %v", err)
	}

	result, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Expected field error to stay on the stream, got %v", err)
	}
	if result.Data != nil {
		t.Errorf("Expected nil data, got %v", result.Data)
	}
	if len(result.Errors) != 1 || result.Errors[0].Message != "bad event" {
		t.Errorf("Unexpected errors: %v", result.Errors)
	}

	result, err = stream.Next(ctx)
	if err != nil {
		t.Fatalf("Expected third event, got %v", err)
	}
	if got := result.Data.(map[string]interface{})["strictCounter"]; got != 3 {
		t.Errorf("Expected strictCounter 3, got %v", got)
	}

	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestSubscribe_SourceFailure(t *testing.T) {
	eng := New()
	schema := testSchema(t, counting(1))

	doc, err := eng.Parse("subscription { broken }")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := eng.Subscribe(ctx, ExecuteParams{Schema: schema, Document: doc})
	defer stream.Close() //nolint:errcheck // test cleanup

	_, err = stream.Next(ctx)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected *StreamError, got %v", err)
	}
	if len(streamErr.Errors) != 1 || streamErr.Errors[0].Message != "source unavailable" {
		t.Errorf("Unexpected stream errors: %v", streamErr.Errors)
	}
}
