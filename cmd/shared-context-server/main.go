// Command shared-context-server runs the coordination server that lets
// multiple AI agents collaborate through shared sessions, messages, and
// per-agent memory.
package main

import (
	"context"
	"os"

	root "github.com/leoric-crown/shared-context-server/cmd/root"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Exit(root.Execute(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...))
}
