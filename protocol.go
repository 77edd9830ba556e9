package main

import (
	"encoding/json"
	"errors"
	"strings"
)

// Protocol event names.
const (
	evConnectionEstablished = "pusher:connection_established"
	evPing                  = "pusher:ping"
	evPong                  = "pusher:pong"
	evError                 = "pusher:error"
	evSubscribe             = "pusher:subscribe"
	evUnsubscribe           = "pusher:unsubscribe"
	evSubscriptionSucceeded = "pusher:subscription_succeeded"
	evInternalSubSucceeded  = "pusher_internal:subscription_succeeded"
	evMemberAdded           = "pusher_internal:member_added"
	evMemberRemoved         = "pusher_internal:member_removed"
)

// Client events carry this name prefix and may only be relayed on
// private and presence channels.
const clientEventPrefix = "client-"

// Sent for every failed private/presence subscription attempt.
const authErrorCode = 4009

// envelope is the wire format of every frame, inbound and outbound.
// Data is raw so string and object payloads both pass through untouched.
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

type unsubscribeData struct {
	Channel string `json:"channel"`
}

// identity doubles as the parsed channel_data of a presence subscription
// and the payload of member_added/member_removed events.
type identity struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

type connectionData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type errorData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type presenceSnapshot struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

type subscriptionAck struct {
	Presence presenceSnapshot `json:"presence"`
}

var errBadEnvelope = errors.New("frame is not a protocol envelope")

func parseEnvelope(text []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(text, &env); err != nil {
		return env, err
	}
	if env.Event == "" {
		return env, errBadEnvelope
	}
	return env, nil
}

// dataBytes returns the envelope payload as JSON, unwrapping one level of
// string encoding when the sender serialized the payload as a string.
func dataBytes(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

func isClientEvent(event string) bool {
	return strings.HasPrefix(event, clientEventPrefix)
}

// protocolFrame encodes a server-originated protocol event. The payload is
// serialized and embedded as a JSON string, the way Pusher clients expect
// protocol event data.
func protocolFrame(event, channel string, payload interface{}) []byte {
	data, _ := json.Marshal(payload)
	quoted, _ := json.Marshal(string(data))
	frame, _ := json.Marshal(envelope{Event: event, Data: quoted, Channel: channel})
	return frame
}

// eventFrame encodes a relayed or published event with its payload passed
// through verbatim.
func eventFrame(event, channel, userID string, data json.RawMessage) []byte {
	frame, _ := json.Marshal(envelope{Event: event, Data: data, Channel: channel, UserID: userID})
	return frame
}

func authErrorFrame(message string) []byte {
	return protocolFrame(evError, "", errorData{Message: message, Code: authErrorCode})
}
