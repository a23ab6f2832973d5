package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/auth"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
)

func TestExtensions_ReturnsObject(t *testing.T) {
	ext, err := New("test.js", `
function extensions(info) {
  return {
    operation: info.operationName,
    errorCount: info.result.errors.length,
    runTime: 42
  };
}`)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := ext.Call(options.ExtensionsInfo{
		OperationName: "TestQuery",
		Result: &gql.Result{
			Data:   map[string]interface{}{"test": "ok"},
			Errors: []gqlerrors.FormattedError{gqlerrors.NewFormattedError("boom")},
		},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if got["operation"] != "TestQuery" {
		t.Errorf("Expected operation TestQuery, got %v", got["operation"])
	}
	if got["errorCount"] != int64(1) {
		t.Errorf("Expected errorCount 1, got %v (%T)", got["errorCount"], got["errorCount"])
	}
	if got["runTime"] != int64(42) {
		t.Errorf("Expected runTime 42, got %v", got["runTime"])
	}
}

func TestExtensions_NoResult(t *testing.T) {
	ext, err := New("test.js", `function extensions(info) { return undefined; }`)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := ext.Call(options.ExtensionsInfo{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil extensions, got %v", got)
	}
}

func TestExtensions_SeesClaims(t *testing.T) {
	ext, err := New("test.js", `function extensions(info) { return { user: info.context.subject }; }`)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := auth.WithClaims(context.Background(), jwt.MapClaims{"sub": "user-7"})
	got, err := ext.Call(options.ExtensionsInfo{Context: ctx})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got["user"] != "user-7" {
		t.Errorf("Expected user-7, got %v", got["user"])
	}
}

func TestExtensions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"missing function", `var x = 1;`, "does not define"},
		{"throws", `function extensions() { throw new Error("nope"); }`, "nope"},
		{"not an object", `function extensions() { return "text"; }`, "must return an object"},
		{"top level failure", `undefinedFn();`, "extensions script failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := New("test.js", tt.source)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			_, err = ext.Call(options.ExtensionsInfo{})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestExtensions_Timeout(t *testing.T) {
	ext, err := New("loop.js", `function extensions() { for (;;) {} }`)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ext.SetTimeout(50 * time.Millisecond)

	_, err = ext.Call(options.ExtensionsInfo{})
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Errorf("Expected interruption error, got %v", err)
	}
}

func TestNew_SyntaxError(t *testing.T) {
	if _, err := New("bad.js", `function (`); err == nil {
		t.Error("Expected compile error, got nil")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions.js")
	if err := os.WriteFile(path, []byte(`function extensions() { return { ok: true }; }`), 0644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	ext, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, err := ext.Func()(options.ExtensionsInfo{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got["ok"] != true {
		t.Errorf("Expected ok=true, got %v", got["ok"])
	}
}
