// Relayhub is a Pusher-compatible pub/sub relay over websockets.
//
//	relayhub -addr=:8081 -key=app-key -secret=app-secret
//
// Everything is as ephemeral as can be. An event is sent to the current
// subscribers of its channel (if any) and then forgotten. A channel is
// forgotten when its last subscriber leaves.
//
// Clients connect with a websocket and speak the Pusher channel protocol:
// subscribe to channels, receive events, and on private- and presence-
// prefixed channels relay client events to each other. Presence channels
// additionally track member identity and announce joins and leaves.
//
// Subscriptions to private- and presence- channels must carry an auth
// token "key:signature" where signature is the hex HMAC-SHA256 of
// "socket_id:channel_name[:channel_data]" under the configured secret.
//
// Servers publish by POSTing JSON to /events.
//
//	curl localhost:8081/events -d '{"name":"greeting","data":"hello","channels":["lobby"]}'
//
// The optional socket_id field excludes one connection from the fan-out so
// a client can publish through the server without hearing its own event.
package main
