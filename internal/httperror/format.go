package httperror

import (
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/location"
)

// GraphQLError is the wire shape of one error in a response.
type GraphQLError struct {
	Message    string                    `json:"message"`
	Locations  []location.SourceLocation `json:"locations,omitempty"`
	Path       []interface{}             `json:"path,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}

// FormatErrorFn converts an engine error to its wire shape.
type FormatErrorFn func(err gqlerrors.FormattedError) GraphQLError

// DefaultFormatError keeps message, locations, path and extensions.
func DefaultFormatError(err gqlerrors.FormattedError) GraphQLError {
	return GraphQLError{
		Message:    err.Message,
		Locations:  err.Locations,
		Path:       err.Path,
		Extensions: err.Extensions,
	}
}

// FormatAll applies fn, or DefaultFormatError when fn is nil, to every error.
func FormatAll(errs []gqlerrors.FormattedError, fn FormatErrorFn) []GraphQLError {
	if len(errs) == 0 {
		return nil
	}
	if fn == nil {
		fn = DefaultFormatError
	}
	formatted := make([]GraphQLError, 0, len(errs))
	for _, err := range errs {
		formatted = append(formatted, fn(err))
	}
	return formatted
}
