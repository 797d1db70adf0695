package main

import (
	"os"

	"github.com/nail-dp-dev/naildp-realtime/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
