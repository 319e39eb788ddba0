package imap

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/postbox/internal/backend"
)

// State is the protocol state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successors of each state. Selected may
// re-target itself, and falls back to Authenticated when a SELECT is
// rejected. Closed is terminal.
var transitions = map[State][]State{
	StateDisconnected:  {StateConnected, StateClosed},
	StateConnected:     {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateSelected, StateClosed},
	StateSelected:      {StateSelected, StateAuthenticated, StateClosed},
}

var errSessionClosed = errors.New("session closed")

// session is the single connection owned by a Connector. Only the
// goroutine that took it out of the connector's slot may touch it.
type session struct {
	client  *imapclient.Client
	state   State
	mailbox string
}

func (s *session) transition(to State) error {
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", s.state, to)
}

func (s *session) authenticated() bool {
	return s.state == StateAuthenticated || s.state == StateSelected
}

// discard closes the connection without a LOGOUT. The session can't be
// used afterwards.
func (s *session) discard() {
	if s.client != nil {
		_ = s.client.Close()
	}
	s.state = StateClosed
	s.mailbox = ""
}

// await runs a blocking client call and gives up when ctx is done. On
// cancellation the connection is closed so the call returns and the
// session never sees the tail of the abandoned exchange.
func await[T any](ctx context.Context, s *session, wait func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	done := make(chan result, 1)
	go func() {
		v, err := wait()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		s.discard()
		<-done
		var zero T
		return zero, ctx.Err()
	}
}

// classify maps a client error to the taxonomy. Server NO/BAD replies
// leave the session usable; anything else ends it.
func classify(s *session, op, addr string, err error) error {
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) && s.state != StateClosed {
		return &backend.ProtocolError{Op: op, Err: err}
	}

	s.discard()
	return &backend.TransportError{Op: op, Addr: addr, Err: err}
}
