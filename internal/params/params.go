package params

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
)

// GraphQLParams is the canonical form of a GraphQL request, whatever
// encoding it arrived in.
type GraphQLParams struct {
	Query         *string
	Variables     map[string]interface{}
	OperationName *string

	// Raw suppresses the GraphiQL page even when HTML is acceptable.
	Raw bool
}

// QueryText returns the query, or "" when none was provided.
func (p *GraphQLParams) QueryText() string {
	if p == nil || p.Query == nil {
		return ""
	}
	return *p.Query
}

// Operation returns the operation name, or "" when none was provided.
func (p *GraphQLParams) Operation() string {
	if p == nil || p.OperationName == nil {
		return ""
	}
	return *p.OperationName
}

// Extract derives GraphQLParams from the query string and the request
// body. Query string values win over body values.
func Extract(r *http.Request, maxBodyBytes int64) (*GraphQLParams, error) {
	body, err := parseBody(r, maxBodyBytes)
	if err != nil {
		return nil, err
	}
	return fromValues(r.URL.Query(), body)
}

// FromPayload builds GraphQLParams from an already decoded payload, as
// received in socket subscribe messages.
func FromPayload(payload map[string]interface{}) (*GraphQLParams, error) {
	return fromValues(url.Values{}, payload)
}

func fromValues(urlData url.Values, body map[string]interface{}) (*GraphQLParams, error) {
	p := &GraphQLParams{}

	if urlData.Has("query") {
		q := urlData.Get("query")
		p.Query = &q
	} else if q, ok := body["query"].(string); ok {
		p.Query = &q
	}

	var variables interface{}
	if urlData.Has("variables") {
		variables = urlData.Get("variables")
	} else {
		variables = body["variables"]
	}
	vars, err := decodeVariables(variables)
	if err != nil {
		return nil, err
	}
	p.Variables = vars

	if urlData.Has("operationName") {
		name := urlData.Get("operationName")
		p.OperationName = &name
	} else if name, ok := body["operationName"].(string); ok {
		p.OperationName = &name
	}

	_, bodyRaw := body["raw"]
	p.Raw = urlData.Has("raw") || bodyRaw

	return p, nil
}

func decodeVariables(v interface{}) (map[string]interface{}, error) {
	switch vars := v.(type) {
	case string:
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(vars), &decoded); err != nil {
			return nil, httperror.ParamError(http.StatusBadRequest, "Variables are invalid JSON.", err)
		}
		return decoded, nil
	case map[string]interface{}:
		return vars, nil
	default:
		return nil, nil
	}
}
