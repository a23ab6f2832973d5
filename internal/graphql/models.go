package graphql

import (
	"encoding/json"
	"time"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/httperror"
)

// Response is the JSON body of a GraphQL response. Data is omitted when
// execution never started and written as null when it produced none.
type Response struct {
	Data       interface{}
	HasData    bool
	Errors     []httperror.GraphQLError
	Extensions map[string]interface{}
}

func (r Response) MarshalJSON() ([]byte, error) {
	body := make(map[string]interface{}, 3)
	if r.HasData {
		body["data"] = r.Data
	}
	if len(r.Errors) > 0 {
		body["errors"] = r.Errors
	}
	if len(r.Extensions) > 0 {
		body["extensions"] = r.Extensions
	}
	return json.Marshal(body)
}

// SubscriptionConfig tunes the socket subscription transport.
type SubscriptionConfig struct {
	// KeepAlive is the interval of legacy "ka" frames; zero disables them.
	KeepAlive time.Duration
	// InitTimeout bounds the wait for connection_init.
	InitTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// AllowedOrigins lists accepted Origin headers; empty accepts any.
	AllowedOrigins []string
}

// Subscription protocol names negotiated during the handshake.
const (
	ProtocolGraphQLWS          = "graphql-ws"
	ProtocolGraphQLTransportWS = "graphql-transport-ws"
)

// Message types of the legacy graphql-ws protocol.
const (
	MessageTypeConnectionInit      = "connection_init"
	MessageTypeConnectionAck       = "connection_ack"
	MessageTypeConnectionError     = "connection_error"
	MessageTypeConnectionKeepAlive = "ka"
	MessageTypeStart               = "start"
	MessageTypeStop                = "stop"
	MessageTypeConnectionTerminate = "connection_terminate"
	MessageTypeData                = "data"
	MessageTypeError               = "error"
	MessageTypeComplete            = "complete"
)

// Message types of the graphql-transport-ws protocol that differ from the
// legacy ones.
const (
	MessageTypeConnect   = "connect"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeSubscribe = "subscribe"
	MessageTypeNext      = "next"
)

// Close codes of the graphql-transport-ws protocol.
const (
	CloseInvalidMessage      = 4400
	CloseUnauthorized        = 4401
	CloseInitTimeout         = 4408
	CloseSubscriberExists    = 4409
	CloseTooManyInitRequests = 4429
)

// SubscriptionMessage is one frame on the subscription socket.
type SubscriptionMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
