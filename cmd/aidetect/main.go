package main

import (
	"os"

	"github.com/gzhole/aidetect/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
