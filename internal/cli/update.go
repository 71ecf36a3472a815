package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/iudanet/hearthsync/internal/core"
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/resolver"
)

// RunDone marks a task done.
func RunDone(ctx context.Context, args []string, c *core.Core) error {
	if len(args) == 0 {
		return fmt.Errorf("missing task id. Usage: hearthsync done <id>")
	}
	return setFields(ctx, c, models.EntityTypeTask, args[0], map[string]any{
		"status": resolver.TaskStatusDone,
	})
}

// RunSet updates arbitrary fields on a record.
func RunSet(ctx context.Context, args []string, c *core.Core) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: hearthsync set <type> <id> <field=value>...")
	}
	entityType, id := args[0], args[1]

	fields := make(map[string]any, len(args)-2)
	for _, pair := range args[2:] {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid field assignment %q, expected field=value", pair)
		}
		fields[key] = value
	}
	return setFields(ctx, c, entityType, id, fields)
}

func setFields(ctx context.Context, c *core.Core, entityType, id string, fields map[string]any) error {
	current, err := c.Store().Get(ctx, entityType, id)
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}

	updated := current.Clone()
	if updated.Fields == nil {
		updated.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		updated.Fields[k] = v
	}

	if _, err := c.Mutate(ctx, updated); err != nil {
		return err
	}
	fmt.Printf("Updated %s %s\n", entityType, id)
	c.Trigger()
	return nil
}
