package main

import (
	"encoding/json"
	"strings"
)

type channelKind int

const (
	chanPublic channelKind = iota
	chanPrivate
	chanPresence
)

// kindOf resolves a channel name prefix to its kind. Resolved once when
// the channel is created, never re-derived per operation.
func kindOf(name string) channelKind {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return chanPresence
	case strings.HasPrefix(name, "private-"):
		return chanPrivate
	default:
		return chanPublic
	}
}

func (k channelKind) protected() bool {
	return k != chanPublic
}

// channel holds the subscribers of one named channel and, on presence
// channels only, the member store: user id to user info, with ids kept in
// join order for the subscription snapshot.
type channel struct {
	name        string
	kind        channelKind
	subscribers map[string]*session
	members     map[string]json.RawMessage
	memberIDs   []string
}

func newChannel(name string) *channel {
	c := &channel{
		name:        name,
		kind:        kindOf(name),
		subscribers: make(map[string]*session),
	}
	if c.kind == chanPresence {
		c.members = make(map[string]json.RawMessage)
	}
	return c
}

func (c *channel) subscribe(s *session) {
	c.subscribers[s.id] = s
	s.channels[c.name] = struct{}{}
}

func (c *channel) unsubscribe(s *session) {
	delete(c.subscribers, s.id)
	delete(s.channels, c.name)
}

func (c *channel) subscribed(s *session) bool {
	_, ok := c.subscribers[s.id]
	return ok
}

func (c *channel) empty() bool {
	return len(c.subscribers) == 0
}

// addMember records a presence member. Reports whether the user id was new
// to the channel; a second subscription under a known id refreshes the
// info without rejoining.
func (c *channel) addMember(id string, info json.RawMessage) bool {
	_, known := c.members[id]
	c.members[id] = info
	if !known {
		c.memberIDs = append(c.memberIDs, id)
	}
	return !known
}

func (c *channel) removeMember(id string) bool {
	if _, ok := c.members[id]; !ok {
		return false
	}
	delete(c.members, id)
	for i, mid := range c.memberIDs {
		if mid == id {
			c.memberIDs = append(c.memberIDs[:i], c.memberIDs[i+1:]...)
			break
		}
	}
	return true
}

func (c *channel) snapshot() presenceSnapshot {
	ids := make([]string, len(c.memberIDs))
	copy(ids, c.memberIDs)
	hash := make(map[string]json.RawMessage, len(c.members))
	for id, info := range c.members {
		hash[id] = info
	}
	return presenceSnapshot{IDs: ids, Hash: hash, Count: len(ids)}
}

// broadcast delivers one frame to every subscriber except the excluded
// socket id. Each send is non-blocking: a recipient with a full buffer
// drops this frame and the loop moves on.
func (c *channel) broadcast(frame []byte, exclude string) {
	for id, s := range c.subscribers {
		if id == exclude {
			continue
		}
		select {
		case s.send <- frame:
		default:
			mark("drops", 1)
		}
	}
}
