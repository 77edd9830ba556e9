package main

import (
	"flag"
	"github.com/facebookgo/httpdown"
	"go.uber.org/zap"
	"net/http"
	"time"
)

func main() {
	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: "127.0.0.1:8081",
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	key := flag.String("key", "", "application key clients must present in auth tokens")
	secret := flag.String("secret", "", "application secret for signing auth tokens")
	activity := flag.Int("activity-timeout", 120, "activity timeout hint sent to clients, in seconds")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	flag.Parse()

	if *key == "" || *secret == "" {
		logger.Fatal("both -key and -secret are required")
	}
	startMetrics()

	h := newHub(authenticator{key: *key, secret: *secret}, *activity)
	go h.run()
	keepalive := newMTicker(pingPeriod)

	// Start the server
	server.Handler = newHandler(h, *origin, keepalive)
	logger.Info("listening", zap.String("addr", server.Addr), zap.String("key", *key))
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	finalMetrics()
}
