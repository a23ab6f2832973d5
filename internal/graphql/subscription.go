package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
)

const (
	defaultInitTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// SubscriptionHandler runs GraphQL operations over WebSocket using either
// graphql-transport-ws or the legacy graphql-ws protocol.
type SubscriptionHandler struct {
	engine   engine.Engine
	source   options.Source
	config   SubscriptionConfig
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*subscriptionClient
	mu       sync.RWMutex
}

// subscriptionClient represents a connected subscription client
type subscriptionClient struct {
	conn     *websocket.Conn
	protocol string
	opts     *options.Options
	ctx      context.Context
	cancel   context.CancelFunc

	writeMu sync.Mutex

	mu            sync.Mutex
	initialized   bool
	subscriptions map[string]*subscription
	wg            sync.WaitGroup
}

// subscription is one running operation of a client
type subscription struct {
	id     string
	cancel context.CancelFunc
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(eng engine.Engine, source options.Source, config SubscriptionConfig) *SubscriptionHandler {
	if eng == nil {
		eng = engine.New()
	}
	if config.InitTimeout <= 0 {
		config.InitTimeout = defaultInitTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	h := &SubscriptionHandler{
		engine:  eng,
		source:  source,
		config:  config,
		clients: make(map[*websocket.Conn]*subscriptionClient),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:  h.checkOrigin,
		Subprotocols: []string{ProtocolGraphQLTransportWS, ProtocolGraphQLWS},
	}
	return h
}

func (h *SubscriptionHandler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles WebSocket upgrade for subscriptions
func (h *SubscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts, err := options.Resolve(h.source, r, &params.GraphQLParams{})
	if err != nil {
		h.reject(w, nil, err)
		return
	}
	if err := opts.Validate(); err != nil {
		h.reject(w, opts, err)
		return
	}

	base := r.Context()
	if opts.Context != nil {
		built, err := opts.Context(r)
		if err != nil {
			h.reject(w, opts, httperror.ExecutionContext(err))
			return
		}
		if built != nil {
			base = built
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Debug("Subscriptions: upgrade failed", zap.Error(err))
		return
	}

	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = ProtocolGraphQLTransportWS
	}

	ctx, cancel := context.WithCancel(base)
	client := &subscriptionClient{
		conn:          conn,
		protocol:      protocol,
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]*subscription),
	}

	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()
	observability.RecordWebSocketConnection(1)
	observability.Info("Subscriptions: client connected",
		zap.String("remote_addr", r.RemoteAddr), zap.String("protocol", protocol))

	defer func() {
		cancel()
		client.wg.Wait()

		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close() //nolint:errcheck // connection teardown

		observability.RecordWebSocketConnection(-1)
		observability.Info("Subscriptions: client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	h.handleClient(client)
}

// reject answers the handshake with a JSON error. Options may be nil when
// they could not be resolved.
func (h *SubscriptionHandler) reject(w http.ResponseWriter, opts *options.Options, err error) {
	httpErr := httperror.Normalize(err)
	for key, value := range httpErr.Headers {
		w.Header().Set(key, value)
	}
	var formatError httperror.FormatErrorFn
	pretty := false
	if opts != nil {
		formatError = opts.CustomFormatErrorFn
		pretty = opts.Pretty
	}
	writeJSON(w, httpErr.Status, Response{Errors: httperror.FormatAll(httpErr.Errors, formatError)}, pretty)
}

// handleClient reads frames until the peer leaves or breaks the protocol
func (h *SubscriptionHandler) handleClient(client *subscriptionClient) {
	if err := client.conn.SetReadDeadline(time.Now().Add(h.config.InitTimeout)); err != nil {
		return
	}

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !client.isInitialized() {
				h.closeWith(client, CloseInitTimeout, "Connection initialisation timeout")
			}
			return
		}
		observability.RecordWebSocketMessage("received")

		var msg SubscriptionMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			if client.modern() {
				h.closeWith(client, CloseInvalidMessage, "Invalid message received")
				return
			}
			h.sendConnectionError(client, "Invalid message received")
			continue
		}

		if !h.dispatch(client, msg) {
			return
		}
	}
}

// dispatch handles one frame. It returns false when the connection must end.
func (h *SubscriptionHandler) dispatch(client *subscriptionClient, msg SubscriptionMessage) bool {
	switch msg.Type {
	case MessageTypeConnectionInit, MessageTypeConnect:
		if client.isInitialized() {
			if client.modern() {
				h.closeWith(client, CloseTooManyInitRequests, "Too many initialisation requests")
				return false
			}
			return true
		}
		if !client.modern() && !objectPayload(msg.Payload) {
			h.sendConnectionError(client, "Invalid connection_init payload")
			return false
		}
		client.markInitialized()
		if err := client.conn.SetReadDeadline(time.Time{}); err != nil {
			return false
		}
		h.send(client, SubscriptionMessage{Type: MessageTypeConnectionAck})
		if !client.modern() && h.config.KeepAlive > 0 {
			client.wg.Add(1)
			go h.sendKeepAlive(client)
		}

	case MessageTypePing:
		h.send(client, SubscriptionMessage{Type: MessageTypePong, Payload: msg.Payload})

	case MessageTypePong:

	case MessageTypeSubscribe, MessageTypeStart:
		if !client.isInitialized() {
			if client.modern() {
				h.closeWith(client, CloseUnauthorized, "Unauthorized")
				return false
			}
			h.sendError(client, msg.ID, []gqlerrors.FormattedError{gqlerrors.NewFormattedError("Connection not initialised")})
			return true
		}
		return h.handleSubscribe(client, msg)

	case MessageTypeComplete, MessageTypeStop:
		h.handleUnsubscribe(client, msg.ID)

	case MessageTypeConnectionTerminate:
		return false

	default:
		if client.modern() {
			h.closeWith(client, CloseInvalidMessage, fmt.Sprintf("Unexpected message of type %s received", msg.Type))
			return false
		}
		h.sendError(client, msg.ID, []gqlerrors.FormattedError{
			gqlerrors.NewFormattedError(fmt.Sprintf("Invalid message type %q", msg.Type)),
		})
	}

	return true
}

// handleSubscribe validates an operation and starts it in its own goroutine
func (h *SubscriptionHandler) handleSubscribe(client *subscriptionClient, msg SubscriptionMessage) bool {
	if msg.ID == "" {
		if client.modern() {
			h.closeWith(client, CloseInvalidMessage, "Invalid message received")
			return false
		}
		h.sendError(client, "", []gqlerrors.FormattedError{gqlerrors.NewFormattedError("Missing operation id")})
		return true
	}

	if client.hasSubscription(msg.ID) {
		if client.modern() {
			h.closeWith(client, CloseSubscriberExists, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
			return false
		}
		h.handleUnsubscribe(client, msg.ID)
	}

	payload := map[string]interface{}{}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, msg.ID, []gqlerrors.FormattedError{gqlerrors.NewFormattedError("Invalid subscribe payload")})
			return true
		}
	}

	p, err := params.FromPayload(payload)
	if err != nil {
		h.sendError(client, msg.ID, httperror.Normalize(err).Errors)
		return true
	}
	if p.Query == nil {
		h.sendError(client, msg.ID, httperror.MissingQuery().Errors)
		return true
	}

	opts := client.opts
	if errs := h.engine.ValidateSchema(opts.Schema); len(errs) > 0 {
		h.sendError(client, msg.ID, errs)
		return true
	}

	doc, err := ParseDocument(client.ctx, h.engine, opts, *p.Query)
	if err != nil {
		h.sendError(client, msg.ID, httperror.Syntax(err).Errors)
		return true
	}

	if errs := ValidateDocument(client.ctx, h.engine, opts, doc); len(errs) > 0 {
		h.sendError(client, msg.ID, errs)
		return true
	}

	ctx, cancel := context.WithCancel(client.ctx)
	sub := &subscription{id: msg.ID, cancel: cancel}
	client.addSubscription(sub)

	ep := engine.ExecuteParams{
		Schema:        opts.Schema,
		Document:      doc,
		RootValue:     opts.RootValue,
		Variables:     p.Variables,
		OperationName: p.Operation(),
		FieldResolver: opts.FieldResolver,
	}
	operationType := engine.OperationType(doc, p.Operation())

	client.wg.Add(1)
	go h.runOperation(ctx, client, sub, operationType, ep)

	return true
}

// runOperation forwards results in production order until the stream ends
// or its context is cancelled. The id is released before the final frame
// so the client may reuse it right away.
func (h *SubscriptionHandler) runOperation(ctx context.Context, client *subscriptionClient, sub *subscription, operationType string, ep engine.ExecuteParams) {
	defer client.wg.Done()
	defer client.removeSubscription(sub)
	defer sub.cancel()

	observability.RecordSubscriptionSession(1)
	defer observability.RecordSubscriptionSession(-1)

	if operationType != ast.OperationTypeSubscription {
		result, err := ExecuteOperation(ctx, h.engine, client.opts, ep)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			client.removeSubscription(sub)
			h.sendError(client, sub.id, httperror.ExecutionContext(err).Errors)
			return
		}
		if !h.deliver(ctx, client, sub, ep, result) {
			return
		}
		client.removeSubscription(sub)
		h.sendComplete(client, sub.id)
		return
	}

	stream := h.engine.Subscribe(ctx, ep)
	defer stream.Close() //nolint:errcheck // always nil

	for {
		result, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}

		var streamErr *engine.StreamError
		switch {
		case err == nil:
			if !h.deliver(ctx, client, sub, ep, result) {
				return
			}
		case errors.Is(err, io.EOF):
			client.removeSubscription(sub)
			h.sendComplete(client, sub.id)
			return
		case errors.As(err, &streamErr):
			observability.Warn("Subscriptions: stream failed", zap.String("id", sub.id), zap.Error(err))
			client.removeSubscription(sub)
			h.sendError(client, sub.id, streamErr.Errors)
			return
		default:
			client.removeSubscription(sub)
			h.sendError(client, sub.id, gqlerrors.FormatErrors(err))
			return
		}
	}
}

// deliver sends one result. When the extensions hook fails the operation
// ends with an error frame and deliver reports false.
func (h *SubscriptionHandler) deliver(ctx context.Context, client *subscriptionClient, sub *subscription, ep engine.ExecuteParams, result *gql.Result) bool {
	extensions, err := ResultExtensions(ctx, client.opts, ep, result)
	if err != nil {
		observability.Error("Subscriptions: extensions failed", zap.String("id", sub.id), zap.Error(err))
		client.removeSubscription(sub)
		h.sendError(client, sub.id, gqlerrors.FormatErrors(err))
		return false
	}
	h.sendNext(client, sub.id, result.Data, result.Errors, extensions)
	return true
}

// handleUnsubscribe stops a running operation
func (h *SubscriptionHandler) handleUnsubscribe(client *subscriptionClient, id string) {
	sub := client.takeSubscription(id)
	if sub == nil {
		return
	}
	sub.cancel()
	if !client.modern() {
		h.sendComplete(client, id)
	}
}

// sendKeepAlive sends periodic legacy keep-alive frames
func (h *SubscriptionHandler) sendKeepAlive(client *subscriptionClient) {
	defer client.wg.Done()

	ticker := time.NewTicker(h.config.KeepAlive)
	defer ticker.Stop()

	h.send(client, SubscriptionMessage{Type: MessageTypeConnectionKeepAlive})
	for {
		select {
		case <-client.ctx.Done():
			return
		case <-ticker.C:
			if err := h.send(client, SubscriptionMessage{Type: MessageTypeConnectionKeepAlive}); err != nil {
				return
			}
		}
	}
}

func (h *SubscriptionHandler) sendNext(client *subscriptionClient, id string, data interface{}, errs []gqlerrors.FormattedError, extensions map[string]interface{}) {
	msgType := MessageTypeNext
	if !client.modern() {
		msgType = MessageTypeData
	}

	payload, err := json.Marshal(Response{
		Data:       data,
		HasData:    true,
		Errors:     httperror.FormatAll(errs, client.opts.CustomFormatErrorFn),
		Extensions: extensions,
	})
	if err != nil {
		h.sendError(client, id, gqlerrors.FormatErrors(err))
		return
	}

	h.send(client, SubscriptionMessage{ID: id, Type: msgType, Payload: payload}) //nolint:errcheck // reader loop notices broken connections
}

// sendConnectionError reports a legacy connection-level failure.
func (h *SubscriptionHandler) sendConnectionError(client *subscriptionClient, message string) {
	payload, err := json.Marshal(httperror.GraphQLError{Message: message})
	if err != nil {
		return
	}
	h.send(client, SubscriptionMessage{Type: MessageTypeConnectionError, Payload: payload}) //nolint:errcheck // reader loop notices broken connections
}

func objectPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var object map[string]interface{}
	return json.Unmarshal(trimmed, &object) == nil
}

func (h *SubscriptionHandler) sendComplete(client *subscriptionClient, id string) {
	h.send(client, SubscriptionMessage{ID: id, Type: MessageTypeComplete}) //nolint:errcheck // reader loop notices broken connections
}

// sendError reports errors of one operation. graphql-transport-ws carries
// a list, graphql-ws a single error object.
func (h *SubscriptionHandler) sendError(client *subscriptionClient, id string, errs []gqlerrors.FormattedError) {
	formatted := httperror.FormatAll(errs, client.opts.CustomFormatErrorFn)
	if len(formatted) == 0 {
		formatted = []httperror.GraphQLError{{Message: "Unknown error"}}
	}

	var (
		payload []byte
		err     error
	)
	if client.modern() {
		payload, err = json.Marshal(formatted)
	} else {
		payload, err = json.Marshal(formatted[0])
	}
	if err != nil {
		observability.Error("Subscriptions: failed to encode error", zap.Error(err))
		return
	}

	h.send(client, SubscriptionMessage{ID: id, Type: MessageTypeError, Payload: payload}) //nolint:errcheck // reader loop notices broken connections
}

func (h *SubscriptionHandler) send(client *subscriptionClient, msg SubscriptionMessage) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout)); err != nil {
		return err
	}
	if err := client.conn.WriteJSON(msg); err != nil {
		observability.Debug("Subscriptions: write failed", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	observability.RecordWebSocketMessage("sent")
	return nil
}

func (h *SubscriptionHandler) closeWith(client *subscriptionClient, code int, reason string) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	deadline := time.Now().Add(h.config.WriteTimeout)
	if err := client.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		observability.Debug("Subscriptions: close frame failed", zap.Error(err))
	}
}

// GetActiveConnectionCount returns the number of active connections
func (h *SubscriptionHandler) GetActiveConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll ends every operation and closes all active connections
func (h *SubscriptionHandler) CloseAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lastErr error
	for conn, client := range h.clients {
		client.cancel()
		if err := conn.Close(); err != nil {
			lastErr = fmt.Errorf("error closing connection: %w", err)
		}
	}

	h.clients = make(map[*websocket.Conn]*subscriptionClient)
	return lastErr
}

func (c *subscriptionClient) modern() bool {
	return c.protocol == ProtocolGraphQLTransportWS
}

func (c *subscriptionClient) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *subscriptionClient) markInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

func (c *subscriptionClient) hasSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[id]
	return ok
}

func (c *subscriptionClient) addSubscription(sub *subscription) {
	c.mu.Lock()
	c.subscriptions[sub.id] = sub
	c.mu.Unlock()
}

func (c *subscriptionClient) takeSubscription(id string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[id]
	if !ok {
		return nil
	}
	delete(c.subscriptions, id)
	return sub
}

func (c *subscriptionClient) removeSubscription(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.subscriptions[sub.id]; ok && current == sub {
		delete(c.subscriptions, sub.id)
	}
}
