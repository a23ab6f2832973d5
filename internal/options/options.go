package options

import (
	"context"
	"errors"
	"net/http"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphiql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
)

// ContextFn builds the execution context for a request. A failure is
// reported to the client as an execution context error.
type ContextFn func(r *http.Request) (context.Context, error)

// ParseFn replaces the engine's parser.
type ParseFn func(query string) (*ast.Document, error)

// ValidateFn replaces the engine's document validation.
type ValidateFn func(schema *gql.Schema, doc *ast.Document, rules []gql.ValidationRuleFn) []gqlerrors.FormattedError

// ExecuteFn replaces the engine's executor. A returned error is treated
// as an execution context error.
type ExecuteFn func(ctx context.Context, p engine.ExecuteParams) (*gql.Result, error)

// ExtensionsInfo is handed to an ExtensionsFn after execution.
type ExtensionsInfo struct {
	Document      *ast.Document
	Variables     map[string]interface{}
	OperationName string
	Result        *gql.Result
	Context       context.Context
}

// ExtensionsFn computes the extensions entry of a response. Returning a
// nil map leaves the result untouched.
type ExtensionsFn func(info ExtensionsInfo) (map[string]interface{}, error)

// Options configure how a single request is handled.
type Options struct {
	Schema          *gql.Schema
	RootValue       interface{}
	Context         ContextFn
	ValidationRules []gql.ValidationRuleFn
	FieldResolver   gql.FieldResolveFn

	Pretty          bool
	GraphiQL        bool
	GraphiQLOptions *graphiql.Options

	CustomParseFn       ParseFn
	CustomValidateFn    ValidateFn
	CustomExecuteFn     ExecuteFn
	CustomFormatErrorFn httperror.FormatErrorFn
	Extensions          ExtensionsFn
}

// Source yields the options for a request. Params is nil when parameter
// extraction failed and the options are only needed to format that error.
type Source interface {
	Options(r *http.Request, p *params.GraphQLParams) (*Options, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(r *http.Request, p *params.GraphQLParams) (*Options, error)

func (f SourceFunc) Options(r *http.Request, p *params.GraphQLParams) (*Options, error) {
	return f(r, p)
}

type static struct {
	opts *Options
}

// Static returns a Source that always yields opts.
func Static(opts *Options) Source {
	return static{opts: opts}
}

func (s static) Options(*http.Request, *params.GraphQLParams) (*Options, error) {
	return s.opts, nil
}

// Resolve asks src for the options of this request.
func Resolve(src Source, r *http.Request, p *params.GraphQLParams) (*Options, error) {
	if src == nil {
		return nil, httperror.ConfigError("GraphQL middleware requires options.", nil)
	}

	opts, err := src.Options(r, p)
	if err != nil {
		var httpErr *httperror.HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		return nil, httperror.ConfigError(err.Error(), err)
	}
	if opts == nil {
		return nil, httperror.ConfigError(
			"GraphQL middleware option function must return an options object or a promise which will be resolved to an options object.", nil)
	}
	return opts, nil
}

// Validate checks the options needed to run a request.
func (o *Options) Validate() error {
	if o.Schema == nil {
		return httperror.ConfigError("GraphQL middleware options must contain a schema.", nil)
	}
	return nil
}
