package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/hearthsync/internal/core"
	"github.com/iudanet/hearthsync/internal/models"
)

// RunWatch runs the sync loops continuously, printing committed
// changes as they land, until interrupted.
func RunWatch(ctx context.Context, c *core.Core) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, cancel := c.Events().Subscribe("", 64)
	defer cancel()

	go func() {
		for ev := range events {
			printChange(ev)
		}
	}()

	fmt.Println("Watching for changes. Press Ctrl+C to stop.")
	err := c.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printChange(ev models.ChangeEvent) {
	action := "updated"
	switch {
	case ev.Entity.IsDeleted:
		action = "deleted"
	case ev.Entity.Version == 1:
		action = "created"
	}
	origin := "local"
	if ev.Origin == models.OriginRemote {
		origin = "remote"
	}
	title, _ := ev.Entity.Fields["title"].(string)
	fmt.Printf("[%s] %s %s %s %q (v%d, %s)\n",
		ev.At.Format(time.TimeOnly), origin, action,
		ev.Entity.Type, title, ev.Entity.Version, ev.Entity.ID)
}
