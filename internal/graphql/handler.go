package graphql

import (
	"net/http"
	"time"

	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphiql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/tracker"
)

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Engine       engine.Engine
	Options      options.Source
	MaxBodyBytes int64
	Tracker      *tracker.Tracker
}

// Handler serves GraphQL queries and mutations over HTTP GET and POST.
type Handler struct {
	engine       engine.Engine
	source       options.Source
	maxBodyBytes int64
	tracker      *tracker.Tracker
}

// NewHandler creates a new GraphQL handler
func NewHandler(cfg HandlerConfig) *Handler {
	eng := cfg.Engine
	if eng == nil {
		eng = engine.New()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = params.DefaultMaxBodyBytes
	}
	return &Handler{
		engine:       eng,
		source:       cfg.Options,
		maxBodyBytes: maxBody,
		tracker:      cfg.Tracker,
	}
}

// outcome is the state carried from one pipeline step to the next and
// finally rendered.
type outcome struct {
	status     int
	headers    map[string]string
	data       interface{}
	hasData    bool
	errors     []gqlerrors.FormattedError
	extensions map[string]interface{}
	class      httperror.Class

	params          *params.GraphQLParams
	pretty          bool
	formatError     httperror.FormatErrorFn
	showGraphiQL    bool
	graphiqlOptions *graphiql.Options

	// uiOnly renders GraphiQL without a result.
	uiOnly bool
	// uiWithParams pre-fills the GraphiQL form with the request params.
	uiWithParams bool

	operationType string
	operationName string
}

// ServeHTTP handles GraphQL HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	out := h.run(r)

	if err := r.Context().Err(); err != nil {
		observability.Debug("GraphQL: client went away before the response was written",
			zap.String("path", r.URL.Path), zap.Error(err))
		return
	}

	h.respond(w, out)
	h.record(r, out, time.Since(start))
}

// run executes the pipeline and normalizes any failure.
func (h *Handler) run(r *http.Request) *outcome {
	out := &outcome{status: http.StatusOK, headers: map[string]string{}}

	if err := h.process(r, out); err != nil {
		httpErr := httperror.Normalize(err)
		out.status = httpErr.Status
		out.headers = httpErr.Headers
		out.errors = httpErr.Errors
		out.class = httpErr.Class
		out.data, out.hasData, out.extensions = nil, false, nil
		out.uiOnly = false

		observability.RecordGraphQLError(string(httpErr.Class))
		if httpErr.Status >= http.StatusInternalServerError {
			observability.Error("GraphQL request failed",
				zap.Int("status", httpErr.Status),
				zap.String("class", string(httpErr.Class)),
				zap.Error(httpErr))
		} else {
			observability.Debug("GraphQL request rejected",
				zap.Int("status", httpErr.Status),
				zap.String("class", string(httpErr.Class)),
				zap.Error(httpErr))
		}
	}

	if !out.uiOnly && out.status == http.StatusOK && out.data == nil {
		out.status = http.StatusInternalServerError
	}

	return out
}

// process walks the pipeline states in order. The first failure ends it.
func (h *Handler) process(r *http.Request, out *outcome) error {
	p, err := params.Extract(r, h.maxBodyBytes)
	if err != nil {
		// resolved again without params, only for the error formatter
		opts, optErr := options.Resolve(h.source, r, nil)
		if optErr != nil {
			return optErr
		}
		out.pretty = opts.Pretty
		out.formatError = opts.CustomFormatErrorFn
		return err
	}
	out.params = p
	out.operationName = p.Operation()

	opts, err := options.Resolve(h.source, r, p)
	if err != nil {
		return err
	}
	out.pretty = opts.Pretty
	out.formatError = opts.CustomFormatErrorFn
	if err := opts.Validate(); err != nil {
		return err
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return httperror.MethodNotAllowed()
	}

	out.showGraphiQL = opts.GraphiQL && canDisplayGraphiQL(r, p)
	out.graphiqlOptions = opts.GraphiQLOptions

	if p.Query == nil {
		if out.showGraphiQL {
			out.uiOnly = true
			return nil
		}
		return httperror.MissingQuery()
	}

	if errs := h.engine.ValidateSchema(opts.Schema); len(errs) > 0 {
		return httperror.SchemaValidation(errs)
	}

	ctx := r.Context()

	doc, err := ParseDocument(ctx, h.engine, opts, *p.Query)
	if err != nil {
		return httperror.Syntax(err)
	}

	if errs := ValidateDocument(ctx, h.engine, opts, doc); len(errs) > 0 {
		return httperror.Validation(errs)
	}

	out.operationType = engine.OperationType(doc, p.Operation())
	if r.Method == http.MethodGet && out.operationType != "" && out.operationType != ast.OperationTypeQuery {
		if out.showGraphiQL {
			out.uiOnly = true
			out.uiWithParams = true
			return nil
		}
		return httperror.OperationNotAllowed(out.operationType)
	}

	execCtx := ctx
	if opts.Context != nil {
		built, err := opts.Context(r)
		if err != nil {
			return httperror.ExecutionContext(err)
		}
		if built != nil {
			execCtx = built
		}
	}
	if err := execCtx.Err(); err != nil {
		return httperror.ExecutionContext(err)
	}

	ep := engine.ExecuteParams{
		Schema:        opts.Schema,
		Document:      doc,
		RootValue:     opts.RootValue,
		Variables:     p.Variables,
		OperationName: p.Operation(),
		FieldResolver: opts.FieldResolver,
	}
	result, err := ExecuteOperation(execCtx, h.engine, opts, ep)
	if err != nil {
		return httperror.ExecutionContext(err)
	}

	out.status = http.StatusOK
	out.data, out.hasData = result.Data, true
	out.errors = result.Errors

	out.extensions, err = ResultExtensions(execCtx, opts, ep, result)
	if err != nil {
		return err
	}

	return nil
}

func (h *Handler) record(r *http.Request, out *outcome, elapsed time.Duration) {
	operationType := out.operationType
	if operationType == "" {
		operationType = "unknown"
	}
	observability.RecordGraphQLRequest(operationType, out.status, elapsed)

	if h.tracker == nil {
		return
	}
	entry := tracker.OperationLog{
		Method:        r.Method,
		URI:           r.URL.RequestURI(),
		OperationType: out.operationType,
		OperationName: out.operationName,
		Query:         out.params.QueryText(),
		StatusCode:    out.status,
		ErrorCount:    len(out.errors),
		ErrorClass:    string(out.class),
		Duration:      elapsed,
		RemoteAddr:    r.RemoteAddr,
	}
	h.tracker.Log(entry)
}
