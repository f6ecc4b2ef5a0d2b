// citysense runs the civic-issue analysis and daily escalation pipeline.
//
// Usage:
//
//	citysense serve
//	citysense analyse <report-id>
//	citysense aggregate [--date=YYYY-MM-DD]
//	citysense migrate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
