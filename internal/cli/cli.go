// Package cli implements the hearthsync command-line surface on top of
// the core sync object.
package cli

import "fmt"

// PrintUsage prints the top-level command help.
func PrintUsage() {
	fmt.Println("Usage: hearthsync [flags] <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add-task <title> [flags]     Create a task")
	fmt.Println("  add-event <title> [flags]    Create a calendar event")
	fmt.Println("  done <id>                    Mark a task done")
	fmt.Println("  set <type> <id> <k=v>...     Update fields on a record")
	fmt.Println("  list [type]                  List records (default: tasks)")
	fmt.Println("  agenda [days]                List upcoming events")
	fmt.Println("  delete <type> <id>           Delete a record")
	fmt.Println("  sync                         Run one sync cycle")
	fmt.Println("  status                       Show sync status")
	fmt.Println("  dead-letters                 Show permanently failed operations")
	fmt.Println("  watch                        Run continuously and print changes")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --server <url>   Sync server base URL")
	fmt.Println("  --realtime <url> Realtime websocket URL (optional)")
	fmt.Println("  --data <dir>     Local data directory")
	fmt.Println("  --version        Show version information")
}
