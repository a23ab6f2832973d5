package graphql

import (
	"encoding/json"
	"net/http"

	"github.com/munnerz/goautoneg"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/graphiql"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/params"
)

var negotiable = []string{"application/json", "text/html"}

// canDisplayGraphiQL reports whether the client prefers HTML over JSON
// and did not ask for the raw response.
func canDisplayGraphiQL(r *http.Request, p *params.GraphQLParams) bool {
	if p != nil && p.Raw {
		return false
	}
	return goautoneg.Negotiate(r.Header.Get("Accept"), negotiable) == "text/html"
}

func (h *Handler) respond(w http.ResponseWriter, out *outcome) {
	for key, value := range out.headers {
		w.Header().Set(key, value)
	}

	if out.uiOnly {
		data := graphiql.Data{}
		if out.uiWithParams && out.params != nil {
			data.Query = out.params.Query
			data.Variables = out.params.Variables
			data.OperationName = out.params.OperationName
		}
		writeGraphiQL(w, http.StatusOK, data, out.graphiqlOptions)
		return
	}

	response := Response{
		Data:       out.data,
		HasData:    out.hasData,
		Errors:     httperror.FormatAll(out.errors, out.formatError),
		Extensions: out.extensions,
	}

	if out.showGraphiQL {
		data := graphiql.Data{Result: response}
		if out.params != nil {
			data.Query = out.params.Query
			data.Variables = out.params.Variables
			data.OperationName = out.params.OperationName
		}
		writeGraphiQL(w, out.status, data, out.graphiqlOptions)
		return
	}

	writeJSON(w, out.status, response, out.pretty)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, pretty bool) {
	var (
		body []byte
		err  error
	)
	if pretty {
		body, err = json.MarshalIndent(v, "", "  ")
	} else {
		body, err = json.Marshal(v)
	}
	if err != nil {
		observability.Error("GraphQL: failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(Response{Errors: []httperror.GraphQLError{{Message: err.Error()}}})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		observability.Debug("GraphQL: failed to write response", zap.Error(err))
	}
}

func writeGraphiQL(w http.ResponseWriter, status int, data graphiql.Data, opts *graphiql.Options) {
	page, err := graphiql.Render(data, opts)
	if err != nil {
		observability.Error("GraphQL: failed to render GraphiQL", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError,
			Response{Errors: []httperror.GraphQLError{{Message: err.Error()}}}, false)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(page)); err != nil {
		observability.Debug("GraphQL: failed to write GraphiQL page", zap.Error(err))
	}
}
