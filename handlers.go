package main

import (
	"encoding/json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"io"
	"net/http"
)

func newHandler(h *hub, origin string, keepalive *mTicker) http.Handler {
	r := mux.NewRouter()

	// Route websocket requests
	r.Headers(
		"Connection", "Upgrade",
		"Upgrade", "websocket",
	).Handler(newWsHandler(h, origin, keepalive))

	// Route server publishes
	r.Methods("POST").Path("/events").Handler(postHandler{h: h})

	// Anything else, wrong method included, is a fixed 404.
	r.MethodNotAllowedHandler = http.NotFoundHandler()

	return r
}

type wsHandler struct {
	h         *hub
	upgrader  *websocket.Upgrader
	keepalive *mTicker
}

func newWsHandler(h *hub, origin string, keepalive *mTicker) wsHandler {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if origin == "" {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	} else {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == origin
		}
	}
	return wsHandler{h: h, upgrader: upgrader, keepalive: keepalive}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newConnection(ws, wsh.h)
	c.run(wsh.keepalive)
}

type postHandler struct {
	h *hub
}

func (ph postHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendBadRequestError(w, "Unable to read POST body.")
		return
	}
	var pub publication
	if err := json.Unmarshal(body, &pub); err != nil || pub.Name == "" || len(pub.Channels) == 0 {
		sendBadRequestError(w, "Body must be JSON with name, data and channels.")
		return
	}
	ph.h.queue <- command{cmd: PUBLISH, pub: &pub}
	incr("publishes", 1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"sent":true}` + "\n"))
}

func sendBadRequestError(w http.ResponseWriter, str string) {
	http.Error(w, "Error: bad request. "+str, http.StatusBadRequest)
}
