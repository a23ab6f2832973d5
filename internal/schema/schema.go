package schema

import (
	"context"
	"fmt"
	"time"

	gql "github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/engine"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/store"
)

// Defaults for the writeMessages subscription.
const (
	DefaultMessageCount    = 50
	DefaultMessageInterval = time.Second
)

// Config wires the chat schema to its tables.
type Config struct {
	Channels store.Store
	Messages store.Store

	// MessageCount is how many messages writeMessages emits.
	MessageCount int
	// MessageInterval paces writeMessages emissions.
	MessageInterval time.Duration
}

var channelType = gql.NewObject(gql.ObjectConfig{
	Name: "Channel",
	Fields: gql.Fields{
		"id":   &gql.Field{Type: gql.String},
		"name": &gql.Field{Type: gql.String},
	},
})

var messageType = gql.NewObject(gql.ObjectConfig{
	Name: "Message",
	Fields: gql.Fields{
		"id":        &gql.Field{Type: gql.String},
		"channel":   &gql.Field{Type: gql.String},
		"title":     &gql.Field{Type: gql.String},
		"content":   &gql.Field{Type: gql.String},
		"createdAt": &gql.Field{Type: gql.String},
	},
})

// New builds the chat schema over the configured tables.
func New(cfg Config) (gql.Schema, error) {
	if cfg.Channels == nil || cfg.Messages == nil {
		return gql.Schema{}, fmt.Errorf("schema requires channel and message stores")
	}
	if cfg.MessageCount <= 0 {
		cfg.MessageCount = DefaultMessageCount
	}
	if cfg.MessageInterval < 0 {
		cfg.MessageInterval = 0
	}

	r := &resolvers{cfg: cfg}

	query := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"queryMessages": &gql.Field{
				Type:    gql.NewList(messageType),
				Resolve: r.queryMessages,
			},
		},
	})

	mutation := gql.NewObject(gql.ObjectConfig{
		Name: "Mutation",
		Fields: gql.Fields{
			"createChannel": &gql.Field{
				Type: channelType,
				Args: gql.FieldConfigArgument{
					"name": &gql.ArgumentConfig{Type: gql.String},
				},
				Resolve: r.createChannel,
			},
		},
	})

	subscription := gql.NewObject(gql.ObjectConfig{
		Name: "Subscription",
		Fields: gql.Fields{
			"writeMessages": &gql.Field{
				Type: messageType,
				Args: gql.FieldConfigArgument{
					"channel": &gql.ArgumentConfig{Type: gql.String},
				},
				Subscribe: r.subscribeWriteMessages,
				Resolve:   resolveEvent,
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}

type resolvers struct {
	cfg Config
}

func (r *resolvers) queryMessages(p gql.ResolveParams) (interface{}, error) {
	ctx := contextOf(p)

	channels, err := r.cfg.Channels.Find(ctx, store.Selector{}, nil)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, nil
	}

	messages, err := r.cfg.Messages.Find(ctx,
		store.Selector{"channel": channels[0].ID()},
		&store.Order{Field: "title", Descending: true},
	)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	results := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		results = append(results, messageResponse(msg))
	}
	return results, nil
}

func (r *resolvers) createChannel(p gql.ResolveParams) (interface{}, error) {
	rec := store.Record{}
	if name, ok := p.Args["name"].(string); ok {
		rec["name"] = name
	}

	stored, err := r.cfg.Channels.Upsert(contextOf(p), rec)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":   stored.ID(),
		"name": stored["name"],
	}, nil
}

// subscribeWriteMessages stores and emits MessageCount messages, one
// every MessageInterval. The channel closes when done or when the
// subscription context ends.
func (r *resolvers) subscribeWriteMessages(p gql.ResolveParams) (interface{}, error) {
	ctx := contextOf(p)
	channel, _ := p.Args["channel"].(string)
	events := make(chan interface{})

	go func() {
		defer close(events)

		for i := 0; i < r.cfg.MessageCount; i++ {
			stored, err := r.cfg.Messages.Upsert(ctx, store.Record{
				"channel":   channel,
				"title":     fmt.Sprintf("title%d", i),
				"content":   fmt.Sprintf("content%d", i),
				"createdAt": fmt.Sprintf("createdAt%d", i),
			})
			if err != nil {
				observability.Warn("writeMessages: store failed", zap.Error(err))
				select {
				case events <- engine.Abort(err):
				case <-ctx.Done():
				}
				return
			}

			if !sleep(ctx, r.cfg.MessageInterval) {
				return
			}

			select {
			case events <- messageResponse(stored):
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// resolveEvent returns the event the subscription emitted.
func resolveEvent(p gql.ResolveParams) (interface{}, error) {
	if err, ok := p.Source.(error); ok {
		return nil, err
	}
	return p.Source, nil
}

func messageResponse(rec store.Record) map[string]interface{} {
	return map[string]interface{}{
		"id":        rec.ID(),
		"title":     rec["title"],
		"content":   rec["content"],
		"channel":   rec["channel"],
		"createdAt": rec["createdAt"],
	}
}

func contextOf(p gql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
