// Package client is the Client Connector of chatrelay: it keeps one authorized
// subscription to the caller's private channel alive, reconnecting with backoff, and
// collects delivered messages into a de-duplicated view.
//
// It also provides a REST client for the server API and a credential holder backed by
// client-local storage.
package client

// State is a Connector lifecycle state.
type State int

// Connector states.
//
//	Disconnected → Authenticating → Subscribing → Subscribed ⇄ Receiving
//	any non-terminal state → Reconnecting → Authenticating
const (
	Disconnected State = iota
	Authenticating
	Subscribing
	Subscribed
	Receiving
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Receiving:
		return "receiving"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
