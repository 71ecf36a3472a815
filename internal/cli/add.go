package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/hearthsync/internal/core"
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/resolver"
)

// RunAddTask creates a task and queues it for sync.
func RunAddTask(ctx context.Context, args []string, c *core.Core) error {
	fs := flag.NewFlagSet("add-task", flag.ContinueOnError)
	notes := fs.String("notes", "", "Task notes")
	assignees := fs.String("assignees", "", "Comma-separated assignees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing title. Usage: hearthsync add-task <title> [--notes ...] [--assignees a,b]")
	}

	fields := map[string]any{
		"title":  strings.Join(fs.Args(), " "),
		"status": resolver.TaskStatusOpen,
	}
	if *notes != "" {
		fields["notes"] = *notes
	}
	if *assignees != "" {
		fields["assignees"] = splitList(*assignees)
	}

	stored, err := c.Mutate(ctx, &models.Entity{Type: models.EntityTypeTask, Fields: fields})
	if err != nil {
		return err
	}

	fmt.Printf("Created task %s\n", stored.ID)
	c.Trigger()
	return nil
}

// RunAddEvent creates a calendar event. The start and end times are
// provisional until the server confirms the schedule.
func RunAddEvent(ctx context.Context, args []string, c *core.Core) error {
	fs := flag.NewFlagSet("add-event", flag.ContinueOnError)
	starts := fs.String("starts", "", "Start time (RFC3339)")
	ends := fs.String("ends", "", "End time (RFC3339)")
	location := fs.String("location", "", "Event location")
	notes := fs.String("notes", "", "Event notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing title. Usage: hearthsync add-event <title> --starts <time> [--ends <time>]")
	}
	if *starts == "" {
		return fmt.Errorf("missing --starts time")
	}
	startTime, err := time.Parse(time.RFC3339, *starts)
	if err != nil {
		return fmt.Errorf("invalid --starts time: %w", err)
	}

	fields := map[string]any{
		"title":    strings.Join(fs.Args(), " "),
		"startsAt": startTime.Format(time.RFC3339),
	}
	if *ends != "" {
		endTime, err := time.Parse(time.RFC3339, *ends)
		if err != nil {
			return fmt.Errorf("invalid --ends time: %w", err)
		}
		fields["endsAt"] = endTime.Format(time.RFC3339)
	}
	if *location != "" {
		fields["location"] = *location
	}
	if *notes != "" {
		fields["notes"] = *notes
	}

	stored, err := c.Mutate(ctx, &models.Entity{Type: models.EntityTypeEvent, Fields: fields})
	if err != nil {
		return err
	}

	fmt.Printf("Created event %s\n", stored.ID)
	c.Trigger()
	return nil
}

func splitList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
