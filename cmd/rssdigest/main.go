package main

import (
	"os"

	"github.com/iabetor/rssdigest/internal/logger"
)

func main() {
	err := newRootCmd().Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
