package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/hearthsync/internal/core"
)

// RunDelete tombstones a record and queues the deletion.
func RunDelete(ctx context.Context, args []string, c *core.Core) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: hearthsync delete <type> <id>")
	}
	if err := c.Delete(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s %s\n", args[0], args[1])
	c.Trigger()
	return nil
}

// RunSync runs one full pull-then-push cycle and prints the report.
func RunSync(ctx context.Context, c *core.Core) error {
	report, err := c.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println("Sync complete.")
	fmt.Printf("  Pulled:   %d (applied %d, merged %d, skipped %d)\n",
		report.Pulled, report.Applied, report.Merged, report.Skipped)
	fmt.Printf("  Pushed:   %d (acked %d, rejected %d, deferred %d)\n",
		report.Pushed, report.Acked, report.Rejected, report.Deferred)
	if report.Conflict > 0 {
		fmt.Printf("  Conflicts resolved: %d\n", report.Conflict)
	}
	for _, d := range report.Disclosures {
		fmt.Printf("  Notice: %s %s resolved against your local change\n", d.EntityType, d.EntityID)
	}
	return nil
}

// RunStatus prints queue depth, cursors and engine state.
func RunStatus(ctx context.Context, c *core.Core) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== Sync Status ===")
	fmt.Printf("Device:       %s\n", status.DeviceID)
	fmt.Printf("Engine state: %s\n", status.EngineState)
	fmt.Printf("Pending ops:  %d\n", status.Pending)
	fmt.Printf("Dead letters: %d\n", status.DeadLetters)
	for entityType, cursor := range status.Cursors {
		if cursor == "" {
			cursor = "(none)"
		}
		fmt.Printf("Cursor %-8s %s\n", entityType+":", cursor)
	}
	return nil
}

// RunDeadLetters lists operations that exhausted their retries.
func RunDeadLetters(ctx context.Context, c *core.Core) error {
	ops, err := c.DeadLetters(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("No dead-lettered operations.")
		return nil
	}

	fmt.Printf("%d dead-lettered operation(s):\n\n", len(ops))
	for _, op := range ops {
		fmt.Printf("  seq %d: %s %s %s (attempts %d)\n",
			op.Seq, op.Kind, op.EntityType, op.EntityID, op.AttemptCount)
		if op.LastError != "" {
			fmt.Printf("      last error: %s\n", op.LastError)
		}
	}
	return nil
}
