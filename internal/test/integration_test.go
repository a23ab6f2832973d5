package test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/config"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/schema"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/script"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/server"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/sse"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/store"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/watcher"
)

const baseConfig = `server:
  graphql_path: /graphql
graphql:
  pretty: false
subscriptions:
  message_count: 2
  message_interval: 1ms
`

type gateway struct {
	holder   *config.Holder
	messages *store.MemoryStore
	ts       *httptest.Server
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// startGateway wires the same components as cmd/server over memory stores.
func startGateway(t *testing.T, configFile string, extensions *atomic.Pointer[script.Extensions]) *gateway {
	t.Helper()

	holder, err := config.NewHolder(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg := holder.Get()

	channels, messages := store.NewMemoryStore(), store.NewMemoryStore()
	chat, err := schema.New(schema.Config{
		Channels:        channels,
		Messages:        messages,
		MessageCount:    cfg.Subscriptions.MessageCount,
		MessageInterval: cfg.Subscriptions.MessageInterval.Std(),
	})
	if err != nil {
		t.Fatalf("Failed to build schema: %v", err)
	}

	bindings := config.Bindings{Schema: &chat}
	if extensions != nil {
		bindings.Extensions = func(info options.ExtensionsInfo) (map[string]interface{}, error) {
			if ext := extensions.Load(); ext != nil {
				return ext.Call(info)
			}
			return nil, nil
		}
	}
	source := holder.Source(bindings)

	eng := engine.New()
	srv := server.NewServer(cfg.Server, server.Handlers{
		GraphQL:       graphql.NewHandler(graphql.HandlerConfig{Engine: eng, Options: source}),
		Subscriptions: graphql.NewSubscriptionHandler(eng, source, graphql.SubscriptionConfig{}),
		SSE:           sse.NewHandler(eng, source, sse.Config{}),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &gateway{holder: holder, messages: messages, ts: ts}
}

func (g *gateway) post(t *testing.T, query string) (int, string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	resp, err := http.Post(g.ts.URL+"/graphql", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, string(data)
}

func TestIntegrationChatWorkflow(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "gateway.yaml")
	writeFile(t, configFile, baseConfig)
	g := startGateway(t, configFile, nil)

	// create a channel over HTTP
	status, body := g.post(t, `mutation { createChannel(name: "general") { id name } }`)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var created struct {
		Data struct {
			CreateChannel struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"createChannel"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	channelID := created.Data.CreateChannel.ID
	if channelID == "" || created.Data.CreateChannel.Name != "general" {
		t.Fatalf("Unexpected channel: %s", body)
	}

	// no messages yet
	_, body = g.post(t, `{ queryMessages { title } }`)
	if body != `{"data":{"queryMessages":null}}` {
		t.Errorf("Expected empty message list, got %s", body)
	}

	// write messages through a graphql-transport-ws subscription
	dialer := websocket.Dialer{Subprotocols: []string{graphql.ProtocolGraphQLTransportWS}, HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(g.ts.URL, "http")+"/subscriptions", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close() //nolint:errcheck // test cleanup

	if err := conn.WriteJSON(graphql.SubscriptionMessage{Type: graphql.MessageTypeConnectionInit}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	readMessage := func() graphql.SubscriptionMessage {
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatalf("SetReadDeadline failed: %v", err)
		}
		var msg graphql.SubscriptionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		return msg
	}
	if msg := readMessage(); msg.Type != graphql.MessageTypeConnectionAck {
		t.Fatalf("Expected connection_ack, got %s", msg.Type)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     `subscription($channel: String) { writeMessages(channel: $channel) { title channel } }`,
		"variables": map[string]interface{}{"channel": channelID},
	})
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	if err := conn.WriteJSON(graphql.SubscriptionMessage{ID: "1", Type: graphql.MessageTypeSubscribe, Payload: payload}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for i, title := range []string{"title0", "title1"} {
		msg := readMessage()
		if msg.Type != graphql.MessageTypeNext || msg.ID != "1" {
			t.Fatalf("Expected next for id 1, got %s/%s", msg.Type, msg.ID)
		}
		expected := `{"data":{"writeMessages":{"channel":"` + channelID + `","title":"` + title + `"}}}`
		if string(msg.Payload) != expected {
			t.Errorf("Message %d: expected %s, got %s", i, expected, msg.Payload)
		}
	}
	if msg := readMessage(); msg.Type != graphql.MessageTypeComplete {
		t.Errorf("Expected complete, got %s", msg.Type)
	}

	if count := g.messages.Count(); count != 2 {
		t.Errorf("Expected 2 stored messages, got %d", count)
	}

	// newest title first
	_, body = g.post(t, `{ queryMessages { title } }`)
	expected := `{"data":{"queryMessages":[{"title":"title1"},{"title":"title0"}]}}`
	if body != expected {
		t.Errorf("Expected %s, got %s", expected, body)
	}

	// the same query over SSE
	resp, err := http.Get(g.ts.URL + "/graphql/stream?" + url.Values{"query": {"{ queryMessages { title } }"}}.Encode())
	if err != nil {
		t.Fatalf("Failed to make SSE request: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	stream, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read SSE stream: %v", err)
	}
	expectedStream := "event: next\ndata: " + expected + "\n\nevent: complete\ndata: \n\n"
	if string(stream) != expectedStream {
		t.Errorf("Expected stream %q, got %q", expectedStream, stream)
	}
}

func TestIntegrationRejections(t *testing.T) {
	g := startGateway(t, "", nil)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"syntax", `{ queryMessages {`, http.StatusBadRequest},
		{"validation", `{ nope }`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := g.post(t, tt.query)
			if status != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, status, body)
			}
			if strings.Contains(body, `"data"`) {
				t.Errorf("Expected no data for a rejected request, got %s", body)
			}
		})
	}

	resp, err := http.Get(g.ts.URL + "/graphql?" + url.Values{"query": {`mutation { createChannel(name: "x") { id } }`}}.Encode())
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405 for a mutation over GET, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "POST" {
		t.Errorf("Expected Allow POST, got '%s'", allow)
	}
}

func TestIntegrationWatcherReload(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "gateway.yaml")
	scriptFile := filepath.Join(dir, "extensions.js")
	writeFile(t, configFile, baseConfig)
	writeFile(t, scriptFile, `function extensions(info) { return { version: 1 }; }`)

	var extensions atomic.Pointer[script.Extensions]
	loadScript := func() error {
		ext, err := script.Load(scriptFile)
		if err != nil {
			return err
		}
		extensions.Store(ext)
		return nil
	}
	if err := loadScript(); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}

	g := startGateway(t, configFile, &extensions)

	_, body := g.post(t, `{ queryMessages { title } }`)
	expected := `{"data":{"queryMessages":null},"extensions":{"version":1}}`
	if body != expected {
		t.Fatalf("Expected %s, got %s", expected, body)
	}

	var reloadCount int32
	w, err := watcher.NewWatcher(func() error {
		atomic.AddInt32(&reloadCount, 1)
		if err := g.holder.Reload(); err != nil {
			return err
		}
		return loadScript()
	}, configFile, scriptFile)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Close() //nolint:errcheck // test cleanup
	w.SetDebounce(20 * time.Millisecond)

	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	writeFile(t, configFile, strings.Replace(baseConfig, "pretty: false", "pretty: true", 1))
	writeFile(t, scriptFile, `function extensions(info) { return { version: 2 }; }`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body = g.post(t, `{ queryMessages { title } }`)
		if strings.Contains(body, "\n") && strings.Contains(body, `"version": 2`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected pretty output with reloaded extensions, got %s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if atomic.LoadInt32(&reloadCount) == 0 {
		t.Error("Expected reload to be called after file modification")
	}

	// A broken file keeps the previous snapshot.
	writeFile(t, configFile, "server: [")
	time.Sleep(300 * time.Millisecond)
	if !g.holder.Get().GraphQL.Pretty {
		t.Error("Expected previous configuration to survive an invalid reload")
	}
}
