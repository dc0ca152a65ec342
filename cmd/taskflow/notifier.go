package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Sternrassler/taskflow-client/pkg/errhandler"
)

// consoleNotifier prints notifications and dialogs as plain lines.
type consoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out}
}

func (n *consoleNotifier) Notify(note errhandler.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prefix := "error"
	if note.Level == errhandler.LevelWarning {
		prefix = "warning"
	}
	fmt.Fprintf(n.out, "%s: %s\n", prefix, note.Message)
	for _, a := range note.Actions {
		if a == errhandler.ActionReload {
			fmt.Fprintln(n.out, "  retry the command once the service is reachable")
		}
	}
}

func (n *consoleNotifier) Dialog(d errhandler.Dialog) {
	n.mu.Lock()
	defer n.mu.Unlock()

	title := d.Title
	if title == "" {
		title = "Notice"
	}
	fmt.Fprintf(n.out, "%s\n%s\n%s\n", title, strings.Repeat("-", len(title)), d.Message)
}
