package main

import (
	"encoding/json"
	"github.com/gorilla/websocket"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

var (
	server   *httptest.Server
	testAuth = authenticator{key: "testkey", secret: "testsecret"}
)

func TestMain(m *testing.M) {
	h := newHub(testAuth, 120)
	go h.run()
	keepalive := newMTicker(pingPeriod)
	server = httptest.NewServer(newHandler(h, "", keepalive))
	code := m.Run()
	server.Close()
	keepalive.stop()
	os.Exit(code)
}

func wsURL() string {
	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	return u.String()
}

// wsDial opens a connection and consumes the connection_established
// frame, returning the socket id the server assigned.
func wsDial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(), nil)
	if err != nil {
		t.Fatal("Websocket dial error:", err)
	}
	env := readWire(t, ws)
	if env.Event != evConnectionEstablished {
		t.Fatal("Expectation: pusher:connection_established, Received:", env.Event)
	}
	var cd connectionData
	decodeWireData(t, env, &cd)
	if cd.SocketID == "" {
		t.Fatal("Expectation: a socket id, Received: empty")
	}
	return ws, cd.SocketID
}

func readWire(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatal("Websocket read error:", err)
	}
	env, err := parseEnvelope(msg)
	if err != nil {
		t.Fatal("Expectation: a protocol envelope, Received:", err)
	}
	return env
}

// expectWireSilence asserts no frame arrives. The read deadline poisons
// the connection, so call it only as the last read on a socket.
func expectWireSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	if _, msg, err := ws.ReadMessage(); err == nil {
		t.Fatal("Expectation: no frame, Received:", string(msg))
	}
}

func writeWire(t *testing.T, ws *websocket.Conn, env envelope) {
	t.Helper()
	frame, _ := json.Marshal(env)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal("Websocket write error:", err)
	}
}

func decodeWireData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(dataBytes(env.Data), v); err != nil {
		t.Fatal("Expectation: decodable event data, Received:", err)
	}
}

// wsSubscribe subscribes, signing the request when the channel needs it,
// and consumes the acknowledgment.
func wsSubscribe(t *testing.T, ws *websocket.Conn, socketID, channel, channelData string) envelope {
	t.Helper()
	d := subscribeData{Channel: channel, ChannelData: channelData}
	if kindOf(channel).protected() {
		d.Auth = testAuth.sign(socketID, channel, channelData)
	}
	payload, _ := json.Marshal(d)
	writeWire(t, ws, envelope{Event: evSubscribe, Data: payload})
	ack := readWire(t, ws)
	if ack.Event != evSubscriptionSucceeded && ack.Event != evInternalSubSucceeded {
		t.Fatal("Expectation: a subscription acknowledgment, Received:", ack.Event)
	}
	return ack
}

func postEvents(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal("POST error:", err)
	}
	return resp
}

func TestWirePingPong(t *testing.T) {
	ws, _ := wsDial(t)
	defer ws.Close()

	writeWire(t, ws, envelope{Event: evPing})
	env := readWire(t, ws)
	if env.Event != evPong {
		t.Fatal("Expectation: pusher:pong, Received:", env.Event)
	}
}

func TestWirePublicPublish(t *testing.T) {
	x, xid := wsDial(t)
	defer x.Close()
	y, yid := wsDial(t)
	defer y.Close()
	if xid == yid {
		t.Fatal("Expectation: distinct socket ids, Received:", xid)
	}
	wsSubscribe(t, x, xid, "test-channel", "")
	wsSubscribe(t, y, yid, "test-channel", "")

	resp := postEvents(t, `{"name":"test-event","data":"hi","channels":["test-channel"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatal("Expectation: 202, Received:", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"sent":true`) {
		t.Fatal("Expectation: sent:true, Received:", string(body))
	}

	for _, ws := range []*websocket.Conn{x, y} {
		env := readWire(t, ws)
		if env.Event != "test-event" || env.Channel != "test-channel" {
			t.Fatal("Expectation: test-event on test-channel, Received:", env.Event, env.Channel)
		}
		if string(env.Data) != `"hi"` {
			t.Fatal("Expectation: \"hi\", Received:", string(env.Data))
		}
	}
}

func TestWirePublishExcludesSocketID(t *testing.T) {
	ws, id := wsDial(t)
	defer ws.Close()
	wsSubscribe(t, ws, id, "quiet-channel", "")

	resp := postEvents(t, `{"name":"echo","data":"hi","channels":["quiet-channel"],"socket_id":"`+id+`"}`)
	resp.Body.Close()
	expectWireSilence(t, ws)
}

func TestWirePrivateRelay(t *testing.T) {
	a, aid := wsDial(t)
	defer a.Close()
	b, bid := wsDial(t)
	defer b.Close()
	wsSubscribe(t, a, aid, "private-chat", "")
	wsSubscribe(t, b, bid, "private-chat", "")

	writeWire(t, a, envelope{Event: "client-typing", Channel: "private-chat", Data: json.RawMessage(`{"on":true}`)})
	env := readWire(t, b)
	if env.Event != "client-typing" || env.Channel != "private-chat" {
		t.Fatal("Expectation: client-typing on private-chat, Received:", env.Event, env.Channel)
	}
	if string(env.Data) != `{"on":true}` {
		t.Fatal("Expectation: verbatim payload, Received:", string(env.Data))
	}
	// The sender never hears its own relay
	expectWireSilence(t, a)
}

func TestWirePublicRelayDropped(t *testing.T) {
	a, aid := wsDial(t)
	defer a.Close()
	b, bid := wsDial(t)
	defer b.Close()
	wsSubscribe(t, a, aid, "open-floor", "")
	wsSubscribe(t, b, bid, "open-floor", "")

	writeWire(t, a, envelope{Event: "client-shout", Channel: "open-floor", Data: json.RawMessage(`"hi"`)})
	expectWireSilence(t, b)
}

func TestWirePresence(t *testing.T) {
	a, aid := wsDial(t)
	defer a.Close()
	b, bid := wsDial(t)
	defer b.Close()

	ack := wsSubscribe(t, a, aid, "presence-meeting", `{"user_id":"u1","user_info":{"name":"alice"}}`)
	var snap subscriptionAck
	decodeWireData(t, ack, &snap)
	if snap.Presence.Count != 1 || snap.Presence.IDs[0] != "u1" {
		t.Fatal("Expectation: snapshot [u1], Received:", snap.Presence)
	}

	ack = wsSubscribe(t, b, bid, "presence-meeting", `{"user_id":"u2","user_info":{"name":"bob"}}`)
	decodeWireData(t, ack, &snap)
	if snap.Presence.Count != 2 {
		t.Fatal("Expectation: 2, Received:", snap.Presence.Count)
	}
	if snap.Presence.IDs[0] != "u1" || snap.Presence.IDs[1] != "u2" {
		t.Fatal("Expectation: join order [u1 u2], Received:", snap.Presence.IDs)
	}

	env := readWire(t, a)
	if env.Event != evMemberAdded {
		t.Fatal("Expectation: pusher_internal:member_added, Received:", env.Event)
	}
	var member identity
	decodeWireData(t, env, &member)
	if member.UserID != "u2" {
		t.Fatal("Expectation: u2, Received:", member.UserID)
	}

	payload, _ := json.Marshal(unsubscribeData{Channel: "presence-meeting"})
	writeWire(t, b, envelope{Event: evUnsubscribe, Data: payload})
	env = readWire(t, a)
	if env.Event != evMemberRemoved {
		t.Fatal("Expectation: pusher_internal:member_removed, Received:", env.Event)
	}
	decodeWireData(t, env, &member)
	if member.UserID != "u2" {
		t.Fatal("Expectation: u2, Received:", member.UserID)
	}
}

func TestWireBadAuth(t *testing.T) {
	ws, _ := wsDial(t)
	defer ws.Close()

	payload, _ := json.Marshal(subscribeData{Channel: "private-test", Auth: "testkey:deadbeef"})
	writeWire(t, ws, envelope{Event: evSubscribe, Data: payload})
	env := readWire(t, ws)
	if env.Event != evError {
		t.Fatal("Expectation: pusher:error, Received:", env.Event)
	}
	var ed errorData
	decodeWireData(t, env, &ed)
	if ed.Code != 4009 {
		t.Fatal("Expectation: 4009, Received:", ed.Code)
	}

	// The connection survives the rejection
	writeWire(t, ws, envelope{Event: evPing})
	if env := readWire(t, ws); env.Event != evPong {
		t.Fatal("Expectation: pusher:pong, Received:", env.Event)
	}
}

func TestWireGarbageIgnored(t *testing.T) {
	ws, _ := wsDial(t)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{definitely not json")); err != nil {
		t.Fatal("Websocket write error:", err)
	}
	writeWire(t, ws, envelope{Event: evPing})
	if env := readWire(t, ws); env.Event != evPong {
		t.Fatal("Expectation: pusher:pong after garbage, Received:", env.Event)
	}
}

func TestPublishEndpointStatus(t *testing.T) {
	// Wrong method on the publish route
	resp, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatal("GET error:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatal("Expectation: 404, Received:", resp.StatusCode)
	}

	// Unknown route
	resp, err = http.Post(server.URL+"/nope", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal("POST error:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatal("Expectation: 404, Received:", resp.StatusCode)
	}

	// Malformed publish body
	resp = postEvents(t, "not json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatal("Expectation: 400, Received:", resp.StatusCode)
	}
	resp = postEvents(t, `{"name":"","channels":[]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatal("Expectation: 400, Received:", resp.StatusCode)
	}

	// A publish to a channel nobody subscribes to is still accepted
	resp = postEvents(t, `{"name":"void","data":"x","channels":["empty-channel"]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatal("Expectation: 202, Received:", resp.StatusCode)
	}
}
