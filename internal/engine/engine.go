package engine

import (
	"context"
	"sort"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// SourceName is the name attached to every parsed request document.
const SourceName = "GraphQL request"

// Engine is the GraphQL language capability the gateway drives. It never
// writes responses; it only parses, validates and executes.
type Engine interface {
	// Parse builds a document from a query string. Syntax errors are
	// returned as *gqlerrors.Error carrying source locations.
	Parse(query string) (*ast.Document, error)

	// ValidateSchema checks the schema itself. It is a pure function of
	// the schema and returns the same errors for the same schema.
	ValidateSchema(schema *gql.Schema) []gqlerrors.FormattedError

	// Validate runs the specified rules plus any extra rules against doc.
	Validate(schema *gql.Schema, doc *ast.Document, extra []gql.ValidationRuleFn) []gqlerrors.FormattedError

	// Execute runs a query or mutation to completion.
	Execute(ctx context.Context, p ExecuteParams) *gql.Result

	// Subscribe starts a subscription and returns its result stream.
	Subscribe(ctx context.Context, p ExecuteParams) ResultStream
}

// ExecuteParams groups everything needed to run one operation.
type ExecuteParams struct {
	Schema        *gql.Schema
	Document      *ast.Document
	RootValue     interface{}
	Variables     map[string]interface{}
	OperationName string

	// FieldResolver resolves root fields that declare no Resolve func.
	FieldResolver gql.FieldResolveFn
}

type graphqlGo struct{}

// New returns the Engine backed by graphql-go.
func New() Engine {
	return graphqlGo{}
}

func (graphqlGo) Parse(query string) (*ast.Document, error) {
	src := source.NewSource(&source.Source{
		Body: []byte(query),
		Name: SourceName,
	})
	return parser.Parse(parser.ParseParams{Source: src})
}

func (graphqlGo) ValidateSchema(schema *gql.Schema) []gqlerrors.FormattedError {
	if schema == nil {
		return []gqlerrors.FormattedError{gqlerrors.NewFormattedError("Expected a GraphQL schema.")}
	}

	var errs []gqlerrors.FormattedError
	if schema.QueryType() == nil {
		errs = append(errs, gqlerrors.NewFormattedError("Query root type must be provided."))
	}

	typeMap := schema.TypeMap()
	names := make([]string, 0, len(typeMap))
	for name := range typeMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := typeMap[name]
		if t == nil {
			continue
		}
		if err := t.Error(); err != nil {
			errs = append(errs, gqlerrors.FormatError(err))
		}
	}

	return errs
}

func (graphqlGo) Validate(schema *gql.Schema, doc *ast.Document, extra []gql.ValidationRuleFn) []gqlerrors.FormattedError {
	rules := make([]gql.ValidationRuleFn, 0, len(gql.SpecifiedRules)+len(extra))
	rules = append(rules, gql.SpecifiedRules...)
	rules = append(rules, extra...)

	result := gql.ValidateDocument(schema, doc, rules)
	if result.IsValid {
		return nil
	}
	return result.Errors
}

func (graphqlGo) Execute(ctx context.Context, p ExecuteParams) *gql.Result {
	return gql.Execute(gql.ExecuteParams{
		Schema:        *p.Schema,
		Root:          rootValue(p),
		AST:           p.Document,
		OperationName: p.OperationName,
		Args:          p.Variables,
		Context:       ctx,
	})
}

func (graphqlGo) Subscribe(ctx context.Context, p ExecuteParams) ResultStream {
	ctx, cancel := context.WithCancel(ctx)
	results := gql.ExecuteSubscription(gql.ExecuteParams{
		Schema:        *p.Schema,
		Root:          rootValue(p),
		AST:           p.Document,
		OperationName: p.OperationName,
		Args:          p.Variables,
		Context:       ctx,
	})
	return newChannelStream(results, cancel)
}

// OperationType reports "query", "mutation" or "subscription" for the
// operation that would run. It returns "" when the operation cannot be
// determined, leaving the error to execution.
func OperationType(doc *ast.Document, operationName string) string {
	if doc == nil {
		return ""
	}

	var found *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if operationName == "" {
			if found != nil {
				return ""
			}
			found = op
			continue
		}
		if op.Name != nil && op.Name.Value == operationName {
			found = op
			break
		}
	}

	if found == nil {
		return ""
	}
	return found.Operation
}

// rootValue wraps the root so that DefaultResolveFn dispatches root
// fields without a resolver to the configured field resolver.
func rootValue(p ExecuteParams) interface{} {
	if p.FieldResolver == nil {
		return p.RootValue
	}
	return &resolvingRoot{value: p.RootValue, resolve: p.FieldResolver}
}

type resolvingRoot struct {
	value   interface{}
	resolve gql.FieldResolveFn
}

func (r *resolvingRoot) Resolve(p gql.ResolveParams) (interface{}, error) {
	p.Source = r.value
	return r.resolve(p)
}
