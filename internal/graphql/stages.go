package graphql

import (
	"context"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
)

// The stages below are shared by the HTTP, socket and event-stream
// transports. Each one honours the matching hook of opts when it is set.

// ParseDocument parses query with opts.CustomParseFn or the engine.
func ParseDocument(ctx context.Context, eng engine.Engine, opts *options.Options, query string) (*ast.Document, error) {
	_, span := observability.StartSpan(ctx, "graphql.parse")
	defer span.End()

	if opts.CustomParseFn != nil {
		return opts.CustomParseFn(query)
	}
	return eng.Parse(query)
}

// ValidateDocument validates doc against opts.Schema. A custom validator
// receives the specified rules followed by opts.ValidationRules.
func ValidateDocument(ctx context.Context, eng engine.Engine, opts *options.Options, doc *ast.Document) []gqlerrors.FormattedError {
	_, span := observability.StartSpan(ctx, "graphql.validate")
	defer span.End()

	if opts.CustomValidateFn != nil {
		rules := make([]gql.ValidationRuleFn, 0, len(gql.SpecifiedRules)+len(opts.ValidationRules))
		rules = append(rules, gql.SpecifiedRules...)
		rules = append(rules, opts.ValidationRules...)
		return opts.CustomValidateFn(opts.Schema, doc, rules)
	}
	return eng.Validate(opts.Schema, doc, opts.ValidationRules)
}

// ExecuteOperation runs a query or mutation. The result is never nil when
// the error is.
func ExecuteOperation(ctx context.Context, eng engine.Engine, opts *options.Options, ep engine.ExecuteParams) (*gql.Result, error) {
	ctx, span := observability.StartSpan(ctx, "graphql.execute")
	defer span.End()
	if ep.OperationName != "" {
		observability.SetSpanAttribute(ctx, "graphql.operation.name", ep.OperationName)
	}

	var result *gql.Result
	if opts.CustomExecuteFn != nil {
		var err error
		result, err = opts.CustomExecuteFn(ctx, ep)
		if err != nil {
			return nil, err
		}
	} else {
		result = eng.Execute(ctx, ep)
	}
	if result == nil {
		result = &gql.Result{}
	}
	return result, nil
}

// ResultExtensions returns the extensions entry for result: the output of
// opts.Extensions when it yields a map, result.Extensions otherwise.
func ResultExtensions(ctx context.Context, opts *options.Options, ep engine.ExecuteParams, result *gql.Result) (map[string]interface{}, error) {
	if opts.Extensions == nil {
		return result.Extensions, nil
	}
	extensions, err := opts.Extensions(options.ExtensionsInfo{
		Document:      ep.Document,
		Variables:     ep.Variables,
		OperationName: ep.OperationName,
		Result:        result,
		Context:       ctx,
	})
	if err != nil {
		return nil, err
	}
	if extensions == nil {
		return result.Extensions, nil
	}
	return extensions, nil
}
