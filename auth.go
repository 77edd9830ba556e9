package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// authenticator validates auth tokens on private and presence channel
// subscriptions. A token is "key:signature" where signature is the hex
// HMAC-SHA256 of "socket_id:channel_name[:channel_data]" under the
// application secret.
type authenticator struct {
	key    string
	secret string
}

func (a authenticator) sign(socketID, channel, channelData string) string {
	message := socketID + ":" + channel
	if channelData != "" {
		message += ":" + channelData
	}
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(message))
	return a.key + ":" + hex.EncodeToString(mac.Sum(nil))
}

// verify compares the presented token against the expected one. Comparing
// whole tokens covers a wrong key as well as a wrong signature, and
// hmac.Equal keeps the comparison constant-time.
func (a authenticator) verify(socketID, channel, auth, channelData string) bool {
	if auth == "" {
		return false
	}
	expected := a.sign(socketID, channel, channelData)
	return hmac.Equal([]byte(auth), []byte(expected))
}
