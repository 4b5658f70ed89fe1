// Package main is the entry point for the gatekeeper gateway.
package main

import (
	"os"

	"github.com/gatekeeper-proxy/gatekeeper/cmd/gatekeeper/app"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
