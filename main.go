// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/toolforge/cmd"
)

// main is the entry point for the toolforge CLI. Interrupts cancel the root
// context so a running evolution loop stops at a clean iteration boundary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
