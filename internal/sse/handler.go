package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
)

// Event names written on the stream.
const (
	EventNext     = "next"
	EventComplete = "complete"
)

// Config tunes the event stream.
type Config struct {
	// KeepAlive is the interval of comment frames; zero disables them.
	KeepAlive time.Duration
	// Retry is the reconnection delay suggested to clients; zero omits it.
	Retry        time.Duration
	MaxBodyBytes int64
}

// Handler streams GraphQL results as Server-Sent Events. Subscriptions
// emit one event per result; queries and mutations emit a single one.
type Handler struct {
	engine engine.Engine
	source options.Source
	config Config
}

// NewHandler creates a new SSE handler
func NewHandler(eng engine.Engine, source options.Source, config Config) *Handler {
	if eng == nil {
		eng = engine.New()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = params.DefaultMaxBodyBytes
	}
	return &Handler{engine: eng, source: source, config: config}
}

// prepared is an operation that passed every check and is ready to run
type prepared struct {
	opts          *options.Options
	ctx           context.Context
	operationType string
	execute       engine.ExecuteParams
}

// ServeHTTP handles an SSE stream
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, opts, err := h.prepare(r)
	if err != nil {
		h.reject(w, opts, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.reject(w, opts, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := &eventWriter{w: w, flusher: flusher, pretty: opts.Pretty}
	if h.config.Retry > 0 {
		stream.retry(h.config.Retry)
	}

	ctx, cancel := context.WithCancel(op.ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if h.config.KeepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.keepAlive(ctx, h.config.KeepAlive)
		}()
	}

	observability.RecordSSEConnection(1)
	defer observability.RecordSSEConnection(-1)
	observability.Debug("SSE: stream started",
		zap.String("remote_addr", r.RemoteAddr), zap.String("operation", op.operationType))

	h.run(ctx, stream, op)
}

// prepare walks the checks that precede the stream. Failures are answered
// with a plain JSON error before the stream opens, formatted with the
// returned options when they could be resolved.
func (h *Handler) prepare(r *http.Request) (*prepared, *options.Options, error) {
	p, err := params.Extract(r, h.config.MaxBodyBytes)
	if err != nil {
		// resolved again without params, only for the error formatter
		opts, optErr := options.Resolve(h.source, r, nil)
		if optErr != nil {
			return nil, nil, optErr
		}
		return nil, opts, err
	}

	opts, err := options.Resolve(h.source, r, p)
	if err != nil {
		return nil, nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, opts, err
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return nil, opts, httperror.MethodNotAllowed()
	}

	if p.Query == nil {
		return nil, opts, httperror.MissingQuery()
	}
	if errs := h.engine.ValidateSchema(opts.Schema); len(errs) > 0 {
		return nil, opts, httperror.SchemaValidation(errs)
	}

	doc, err := graphql.ParseDocument(r.Context(), h.engine, opts, *p.Query)
	if err != nil {
		return nil, opts, httperror.Syntax(err)
	}
	if errs := graphql.ValidateDocument(r.Context(), h.engine, opts, doc); len(errs) > 0 {
		return nil, opts, httperror.Validation(errs)
	}

	operationType := engine.OperationType(doc, p.Operation())
	if r.Method == http.MethodGet && operationType == ast.OperationTypeMutation {
		return nil, opts, httperror.OperationNotAllowed(operationType)
	}

	ctx := r.Context()
	if opts.Context != nil {
		built, err := opts.Context(r)
		if err != nil {
			return nil, opts, httperror.ExecutionContext(err)
		}
		if built != nil {
			ctx = built
		}
	}

	return &prepared{
		opts:          opts,
		ctx:           ctx,
		operationType: operationType,
		execute: engine.ExecuteParams{
			Schema:        opts.Schema,
			Document:      doc,
			RootValue:     opts.RootValue,
			Variables:     p.Variables,
			OperationName: p.Operation(),
			FieldResolver: opts.FieldResolver,
		},
	}, opts, nil
}

func (h *Handler) run(ctx context.Context, stream *eventWriter, op *prepared) {
	if op.operationType != ast.OperationTypeSubscription {
		result, err := graphql.ExecuteOperation(ctx, h.engine, op.opts, op.execute)
		if err != nil {
			h.fail(stream, op, httperror.ExecutionContext(err).Errors)
			return
		}
		if h.emit(ctx, stream, op, result) {
			stream.complete()
		}
		return
	}

	results := h.engine.Subscribe(ctx, op.execute)
	defer results.Close() //nolint:errcheck // always nil

	for {
		result, err := results.Next(ctx)
		if ctx.Err() != nil {
			observability.Debug("SSE: client disconnected")
			return
		}

		var streamErr *engine.StreamError
		switch {
		case err == nil:
			if !h.emit(ctx, stream, op, result) {
				return
			}
		case errors.Is(err, io.EOF):
			stream.complete()
			return
		case errors.As(err, &streamErr):
			h.fail(stream, op, streamErr.Errors)
			return
		default:
			h.fail(stream, op, gqlerrors.FormatErrors(err))
			return
		}
	}
}

// emit writes one result. It reports false, after ending the stream, when
// the extensions hook failed.
func (h *Handler) emit(ctx context.Context, stream *eventWriter, op *prepared, result *gql.Result) bool {
	extensions, err := graphql.ResultExtensions(ctx, op.opts, op.execute, result)
	if err != nil {
		observability.Error("SSE: extensions failed", zap.Error(err))
		h.fail(stream, op, gqlerrors.FormatErrors(err))
		return false
	}
	stream.next(graphql.Response{
		Data:       result.Data,
		HasData:    true,
		Errors:     httperror.FormatAll(result.Errors, op.opts.CustomFormatErrorFn),
		Extensions: extensions,
	})
	return true
}

// fail ends the stream with an error event.
func (h *Handler) fail(stream *eventWriter, op *prepared, errs []gqlerrors.FormattedError) {
	stream.next(graphql.Response{Errors: httperror.FormatAll(errs, op.opts.CustomFormatErrorFn)})
	stream.complete()
}

// reject writes err as a JSON response. Options may be nil when they could
// not be resolved.
func (h *Handler) reject(w http.ResponseWriter, opts *options.Options, err error) {
	httpErr := httperror.Normalize(err)
	observability.RecordGraphQLError(string(httpErr.Class))

	var formatError httperror.FormatErrorFn
	pretty := false
	if opts != nil {
		formatError = opts.CustomFormatErrorFn
		pretty = opts.Pretty
	}
	body, marshalErr := encode(graphql.Response{Errors: httperror.FormatAll(httpErr.Errors, formatError)}, pretty)
	if marshalErr != nil {
		http.Error(w, marshalErr.Error(), http.StatusInternalServerError)
		return
	}

	for key, value := range httpErr.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpErr.Status)
	_, _ = w.Write(body)
}

func encode(v interface{}, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// eventWriter serializes frames from the result loop and the keep-alive
// goroutine.
type eventWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	pretty  bool
}

func (e *eventWriter) retry(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "retry: %d\n\n", d.Milliseconds())
	e.flusher.Flush()
}

func (e *eventWriter) next(payload graphql.Response) {
	data, err := encode(payload, e.pretty)
	if err != nil {
		observability.Error("SSE: failed to encode event", zap.Error(err))
		return
	}
	e.send(EventNext, string(data))
}

func (e *eventWriter) complete() {
	e.send(EventComplete, "")
}

// send writes a single SSE event. Multi-line data takes one data field
// per line.
func (e *eventWriter) send(event, data string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintf(e.w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(e.w, "data: %s\n", line)
	}
	fmt.Fprint(e.w, "\n")
	e.flusher.Flush()

	observability.RecordSSEEvent()
}

func (e *eventWriter) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			fmt.Fprint(e.w, ": keep-alive\n\n")
			e.flusher.Flush()
			e.mu.Unlock()
		}
	}
}
