package params

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/tidwall/gjson"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
)

// DefaultMaxBodyBytes bounds a decoded request body.
const DefaultMaxBodyBytes = 100 * 1024

var errBodyTooLarge = errors.New("request entity too large")

// parseBody decodes the request body according to its content type.
// Unknown or missing content types yield no body parameters.
func parseBody(r *http.Request, limit int64) (map[string]interface{}, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" || r.Body == nil {
		return map[string]interface{}{}, nil
	}

	mediaType, typeParams, err := mime.ParseMediaType(contentType)
	if err != nil {
		return map[string]interface{}{}, nil
	}

	switch mediaType {
	case "application/graphql":
		raw, err := readBody(r, typeParams, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": string(raw)}, nil

	case "application/json":
		raw, err := readBody(r, typeParams, limit)
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimLeft(raw, " \t\n\r")
		if len(trimmed) == 0 || trimmed[0] != '{' || !gjson.ValidBytes(trimmed) {
			return nil, httperror.ParamError(http.StatusBadRequest, "POST body sent invalid JSON.", nil)
		}
		decoded, ok := gjson.ParseBytes(trimmed).Value().(map[string]interface{})
		if !ok {
			return nil, httperror.ParamError(http.StatusBadRequest, "POST body sent invalid JSON.", nil)
		}
		return decoded, nil

	case "application/x-www-form-urlencoded":
		raw, err := readBody(r, typeParams, limit)
		if err != nil {
			return nil, err
		}
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, httperror.ParamError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %v.", err), err)
		}
		decoded := make(map[string]interface{}, len(values))
		for key := range values {
			decoded[key] = values.Get(key)
		}
		return decoded, nil
	}

	return map[string]interface{}{}, nil
}

// readBody reads and decodes the body, then puts the raw bytes back on
// the request so later readers see the same content.
func readBody(r *http.Request, typeParams map[string]string, limit int64) ([]byte, error) {
	charset := strings.ToLower(typeParams["charset"])
	if charset != "" && charset != "utf-8" && charset != "utf8" {
		return nil, httperror.ParamError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("Unsupported charset %q.", strings.ToUpper(charset)), nil)
	}

	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, httperror.ParamError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %v.", err), err)
	}
	if int64(len(raw)) > limit {
		return nil, httperror.ParamError(http.StatusRequestEntityTooLarge,
			"Invalid body: request entity too large.", errBodyTooLarge)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	decoded, err := decodeContent(raw, r.Header.Get("Content-Encoding"), limit)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func decodeContent(raw []byte, encoding string, limit int64) ([]byte, error) {
	var reader io.Reader

	switch enc := strings.ToLower(strings.TrimSpace(encoding)); enc {
	case "", "identity":
		reader = bytes.NewReader(raw)
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, httperror.ParamError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %v.", err), err)
		}
		defer gz.Close() //nolint:errcheck // in-memory reader
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, httperror.ParamError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %v.", err), err)
		}
		defer zr.Close() //nolint:errcheck // in-memory reader
		reader = zr
	default:
		return nil, httperror.ParamError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("Unsupported content-encoding %q.", enc), nil)
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, httperror.ParamError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %v.", err), err)
	}
	if int64(len(decoded)) > limit {
		return nil, httperror.ParamError(http.StatusRequestEntityTooLarge,
			"Invalid body: request entity too large.", errBodyTooLarge)
	}
	return decoded, nil
}
