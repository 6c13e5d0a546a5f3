package worker

import (
	"fmt"
	"strings"

	"omx/internal/taskstore"
)

// BuildInbox renders a worker's inbox.md: the coordination protocol the
// agent follows plus its initial task references. Full task bodies stay in
// the task store; the inbox carries ids and subjects only.
func BuildInbox(team, name string, tasks []*taskstore.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Worker briefing: %s @ %s\n\n", name, team)
	fmt.Fprintf(&b, "You are %s, a worker on team %q. Coordinate only through the omx CLI;\n", name, team)
	b.WriteString("never edit files under .omx/state by hand. Your identity comes from the\n")
	b.WriteString("TEAM_WORKER variable already exported in this shell.\n\n")

	b.WriteString("## Protocol\n\n")
	b.WriteString("1. Pick a task: `omx worker claim <task-id>`. A rejected claim (wrong\n")
	b.WriteString("   status, already claimed, blocked dependency, draining) means claim a\n")
	b.WriteString("   different task, not retry the same one in a loop.\n")
	b.WriteString("2. While working, check in: `omx worker checkin --state working --task <task-id>`.\n")
	b.WriteString("3. Finish with `omx worker complete <task-id> --result \"<one line>\"` or\n")
	b.WriteString("   `omx worker fail <task-id> --error \"<reason>\"`. If you cannot finish,\n")
	b.WriteString("   `omx worker release <task-id>` puts it back in the pool.\n")
	b.WriteString("4. Read messages with `omx worker inbox`. Write to a peer, the leader, or\n")
	b.WriteString("   everyone: `omx worker send <worker>|leader|broadcast \"<body>\"`.\n")
	b.WriteString("5. When a shutdown is requested you will be poked: run\n")
	b.WriteString("   `omx worker ack-shutdown`, then exit.\n\n")

	b.WriteString("## Initial tasks\n\n")
	if len(tasks) == 0 {
		b.WriteString("(none assigned yet; claim from the shared queue as tasks appear)\n")
		return b.String()
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s\n", t.ID, t.Subject)
	}
	return b.String()
}
