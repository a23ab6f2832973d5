package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// ResultStream is a lazy, finite, non-restartable sequence of results.
type ResultStream interface {
	// Next blocks until the next result is produced. It returns io.EOF
	// once the sequence is exhausted and a *StreamError when the producer
	// failed; both end the stream.
	Next(ctx context.Context) (*gql.Result, error)

	// Close stops the producer. It is safe to call more than once.
	Close() error
}

// StreamError reports a subscription whose resolver failed.
type StreamError struct {
	Errors []gqlerrors.FormattedError
}

func (e *StreamError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// AbortError is emitted by a subscription source to end its stream with
// an error. The field resolver returns it for the event being mapped.
type AbortError struct {
	Err error
}

// Abort wraps err so that the stream carrying it terminates.
func Abort(err error) error {
	return &AbortError{Err: err}
}

func (e *AbortError) Error() string {
	return e.Err.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// terminal reports whether result ends its stream: either a resolver
// aborted the event, or the source itself failed. Source failures carry
// no data and no response path; per-event field errors always have one.
func terminal(result *gql.Result) bool {
	if len(result.Errors) == 0 {
		return false
	}
	for _, formatted := range result.Errors {
		original := formatted.OriginalError()
		if located, ok := original.(*gqlerrors.Error); ok {
			original = located.OriginalError
		}
		var abort *AbortError
		if errors.As(original, &abort) {
			return true
		}
	}
	if result.Data != nil {
		return false
	}
	for _, formatted := range result.Errors {
		if len(formatted.Path) > 0 {
			return false
		}
	}
	return true
}

type channelStream struct {
	results <-chan *gql.Result
	cancel  context.CancelFunc

	mu   sync.Mutex
	done bool
	once sync.Once
}

func newChannelStream(results <-chan *gql.Result, cancel context.CancelFunc) *channelStream {
	return &channelStream{results: results, cancel: cancel}
}

func (s *channelStream) Next(ctx context.Context) (*gql.Result, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result, ok := <-s.results:
		if !ok {
			s.finish()
			return nil, io.EOF
		}
		if terminal(result) {
			s.finish()
			return nil, &StreamError{Errors: result.Errors}
		}
		return result, nil
	}
}

func (s *channelStream) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *channelStream) Close() error {
	s.once.Do(func() {
		s.finish()
		s.cancel()
		// the producer may be blocked on an unbuffered send
		go func() {
			for range s.results {
			}
		}()
	})
	return nil
}
