package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

const sendBufferSize = 256

// session is one live connection's state in the registry: its socket id,
// its outbound send handle, the set of channels it is subscribed to, and
// the identity attached by a successful presence subscription.
type session struct {
	id       string
	send     chan []byte
	channels map[string]struct{}
	userID   string
	userInfo json.RawMessage
}

func newSession() *session {
	return &session{
		id:       newSocketID(),
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]struct{}),
	}
}

// Socket ids keep Pusher's "N.N" shape; client libraries check the format
// before signing auth requests with it.
func newSocketID() string {
	return fmt.Sprintf("%d.%d", rand.Uint32(), rand.Uint32())
}
