package main

import (
	"os"

	"github.com/patchwell/courier/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
