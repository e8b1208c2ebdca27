package main

import (
	"context"
	"os"

	"github.com/kernel/tplsync/cmd"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cmd.Execute(context.Background(), cmd.Metadata{
		Version: version,
		Commit:  commit,
		Date:    date,
	}); err != nil {
		os.Exit(1)
	}
}
