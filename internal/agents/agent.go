// Package agents defines the handler contract the dispatcher drives and the
// registry of specialized handlers the router can choose from.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/ciro-tutor/internal/session"
)

// Request is what a handler sees: its own subquery and a filtered history.
// Handlers never receive the session store.
type Request struct {
	Subquery string
	Snapshot []session.Turn
	// Check is a copy of the session's knowledge-check state, nil when none.
	Check *session.KnowledgeCheck
}

// Answer is a handler's contribution to the reply.
type Answer struct {
	Text      string
	Citations []session.Citation
	// Check, when set, replaces the session's knowledge-check state.
	Check *session.KnowledgeCheck
}

// Handler produces an answer for one subquery.
type Handler interface {
	Invoke(ctx context.Context, req Request) (Answer, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Answer, error)

func (f HandlerFunc) Invoke(ctx context.Context, req Request) (Answer, error) {
	return f(ctx, req)
}

// ErrEmptyAnswer marks a handler that returned no text.
var ErrEmptyAnswer = errors.New("agents: empty answer")

// HandlerError is the failure a handler invocation reports.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agents: handler %s failed: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// WrapError tags err with the handler name unless it already carries one.
func WrapError(handler string, err error) error {
	if err == nil {
		return nil
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return err
	}
	return &HandlerError{Handler: handler, Err: err}
}
