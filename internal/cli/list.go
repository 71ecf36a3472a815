package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/iudanet/hearthsync/internal/core"
	"github.com/iudanet/hearthsync/internal/models"
)

// RunList prints records of the given type, tasks by default.
func RunList(ctx context.Context, args []string, c *core.Core) error {
	entityType := models.EntityTypeTask
	if len(args) > 0 {
		entityType = args[0]
	}

	records, err := c.Store().Query(ctx, entityType, nil)
	if err != nil {
		return fmt.Errorf("failed to list %s records: %w", entityType, err)
	}
	if len(records) == 0 {
		fmt.Printf("No %s records found.\n", entityType)
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})

	fmt.Printf("Found %d %s record(s):\n\n", len(records), entityType)
	for _, r := range records {
		printRecord(r)
	}
	return nil
}

// RunAgenda lists events in the next N days (default 7) using the
// time-range index.
func RunAgenda(ctx context.Context, args []string, c *core.Core) error {
	days := 7
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid day count %q", args[0])
		}
		days = parsed
	}

	from := time.Now()
	to := from.AddDate(0, 0, days)
	events, err := c.Store().QueryTimeRange(ctx, models.EntityTypeEvent, from, to)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	if len(events) == 0 {
		fmt.Printf("No events in the next %d day(s).\n", days)
		return nil
	}

	fmt.Printf("Events in the next %d day(s):\n\n", days)
	for _, e := range events {
		printRecord(e)
	}
	return nil
}

func printRecord(r *models.Entity) {
	title, _ := r.Fields["title"].(string)
	fmt.Printf("  %s  %s\n", r.ID, title)
	for _, name := range models.FieldNames(r.Fields, nil) {
		if name == "title" {
			continue
		}
		fmt.Printf("      %s: %v\n", name, r.Fields[name])
	}
	marker := ""
	if r.IsDirty {
		marker = " (pending sync)"
	}
	fmt.Printf("      v%d, updated %s by %s%s\n\n",
		r.Version, r.UpdatedAt.Format(time.RFC3339), r.LastModifiedBy, marker)
}
