package main

import (
	"encoding/json"
	"fmt"
	"go.uber.org/zap"
)

const (
	REGISTER = iota
	UNREGISTER
	FRAME
	PUBLISH
)

type queue chan command

type command struct {
	cmd  int
	sess *session
	text []byte
	pub  *publication
}

// publication is the body of a server-originated publish.
type publication struct {
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	Channels []string        `json:"channels"`
	SocketID string          `json:"socket_id"`
}

// hub is the single actor owning all connection, channel and presence
// state for the application. Every mutation arrives as a command on the
// queue and runs to completion before the next one starts, so multi-step
// operations are atomic. Outbound delivery is a non-blocking send to each
// recipient's buffer and never stalls the loop.
type hub struct {
	queue           queue
	auth            authenticator
	activityTimeout int
	sessions        map[string]*session
	channels        map[string]*channel
}

func newHub(auth authenticator, activityTimeout int) *hub {
	return &hub{
		queue:           make(queue, 16),
		auth:            auth,
		activityTimeout: activityTimeout,
		sessions:        make(map[string]*session),
		channels:        make(map[string]*channel),
	}
}

func (h *hub) run() {
	for cmd := range h.queue {
		switch cmd.cmd {
		case REGISTER:
			h.register(cmd.sess)
		case UNREGISTER:
			h.unregister(cmd.sess)
		case FRAME:
			h.dispatch(cmd.sess, cmd.text)
		case PUBLISH:
			h.publish(cmd.pub)
		default:
			panic(fmt.Sprintf("unexpected hub cmd: %v\n", cmd))
		}
	}
}

func (h *hub) register(s *session) {
	h.sessions[s.id] = s
	incr("connections", 1)
	h.deliver(s, protocolFrame(evConnectionEstablished, "",
		connectionData{SocketID: s.id, ActivityTimeout: h.activityTimeout}))
}

// unregister runs the full disconnect cleanup: unsubscribe from every
// channel as if client-initiated, then drop the session and close its
// send handle. No subscriber reference survives a disconnect.
func (h *hub) unregister(s *session) {
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	for name := range s.channels {
		h.unsubscribe(s, name)
	}
	delete(h.sessions, s.id)
	close(s.send)
	decr("connections", 1)
}

// dispatch routes one inbound frame. A frame that does not parse as an
// envelope is dropped without reply or state change.
func (h *hub) dispatch(s *session, text []byte) {
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	env, err := parseEnvelope(text)
	if err != nil {
		mark("frames.bad", 1)
		return
	}
	switch {
	case env.Event == evPing:
		h.deliver(s, protocolFrame(evPong, "", struct{}{}))
	case env.Event == evSubscribe:
		var d subscribeData
		if err := json.Unmarshal(dataBytes(env.Data), &d); err != nil || d.Channel == "" {
			mark("frames.bad", 1)
			return
		}
		h.subscribe(s, d)
	case env.Event == evUnsubscribe:
		var d unsubscribeData
		if err := json.Unmarshal(dataBytes(env.Data), &d); err != nil || d.Channel == "" {
			mark("frames.bad", 1)
			return
		}
		h.unsubscribe(s, d.Channel)
	case isClientEvent(env.Event):
		h.relay(s, env)
	default:
		mark("frames.unknown", 1)
	}
}

func (h *hub) subscribe(s *session, d subscribeData) {
	kind := kindOf(d.Channel)
	if kind.protected() && !h.auth.verify(s.id, d.Channel, d.Auth, d.ChannelData) {
		mark("auth.failures", 1)
		h.deliver(s, authErrorFrame("auth signature invalid for "+d.Channel))
		return
	}

	var member identity
	if kind == chanPresence {
		if err := json.Unmarshal([]byte(d.ChannelData), &member); err != nil || member.UserID == "" {
			mark("auth.failures", 1)
			h.deliver(s, authErrorFrame("presence channel_data invalid for "+d.Channel))
			return
		}
	}

	ch, ok := h.channels[d.Channel]
	if !ok {
		ch = newChannel(d.Channel)
		h.channels[d.Channel] = ch
		incr("channels", 1)
		logger.Debug("channel created", zap.String("channel", d.Channel))
	}

	joined := false
	if kind == chanPresence {
		joined = ch.addMember(member.UserID, member.UserInfo)
		s.userID = member.UserID
		s.userInfo = member.UserInfo
	}
	ch.subscribe(s)

	// The presence ack snapshots membership after the join, so the
	// subscriber sees itself in its own snapshot.
	if kind == chanPresence {
		h.deliver(s, protocolFrame(evInternalSubSucceeded, ch.name, subscriptionAck{ch.snapshot()}))
		if joined {
			ch.broadcast(protocolFrame(evMemberAdded, ch.name, member), s.id)
		}
	} else {
		h.deliver(s, protocolFrame(evSubscriptionSucceeded, ch.name, struct{}{}))
	}
}

func (h *hub) unsubscribe(s *session, name string) {
	ch, ok := h.channels[name]
	if !ok || !ch.subscribed(s) {
		return
	}
	ch.unsubscribe(s)
	if ch.empty() {
		delete(h.channels, name)
		decr("channels", 1)
		logger.Debug("channel forgotten", zap.String("channel", name))
	}
	// One presence entry per user id: the entry leaves with whichever of
	// that user's sessions unsubscribes first.
	if ch.kind == chanPresence && s.userID != "" && ch.removeMember(s.userID) {
		ch.broadcast(protocolFrame(evMemberRemoved, ch.name, identity{UserID: s.userID}), s.id)
	}
}

// relay forwards a client event verbatim to the other subscribers of its
// channel. Only subscribers may relay, and only on private or presence
// channels; anything else is dropped without reply.
func (h *hub) relay(s *session, env envelope) {
	ch, ok := h.channels[env.Channel]
	if !ok || !ch.subscribed(s) || !ch.kind.protected() {
		mark("relay.rejected", 1)
		return
	}
	ch.broadcast(eventFrame(env.Event, env.Channel, s.userID, env.Data), s.id)
}

// publish fans a server-originated event out to each listed channel,
// optionally excluding one socket id. Channels with no subscribers are
// silent no-ops.
func (h *hub) publish(pub *publication) {
	for _, name := range pub.Channels {
		ch, ok := h.channels[name]
		if !ok {
			mark("drops", 1)
			continue
		}
		ch.broadcast(eventFrame(pub.Name, name, "", pub.Data), pub.SocketID)
	}
}

func (h *hub) deliver(s *session, frame []byte) {
	select {
	case s.send <- frame:
	default:
		mark("drops", 1)
	}
}
