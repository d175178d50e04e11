package bridge

import "fmt"

// ErrPeerUnavailable is returned when Call targets a peer with no
// registered handlers: a tab that never got an agent, or one that closed
// mid-query. Callers treat it as "zero media", not as a failure.
type ErrPeerUnavailable struct {
	Peer string
}

func (e *ErrPeerUnavailable) Error() string {
	return fmt.Sprintf("bridge: peer unavailable: %s", e.Peer)
}

// ErrUnknownCommand is returned when a live peer has no handler for the
// requested command.
type ErrUnknownCommand struct {
	Peer string
	Cmd  string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("bridge: peer %s has no handler for %q", e.Peer, e.Cmd)
}
