package main

import (
	"go.uber.org/zap"
	"log"
	"os"
)

var logger *zap.Logger

func init() {
	var err error
	if os.Getenv("RELAYHUB_DEBUG") == "1" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
}
