// Package render formats channel frames for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	execmodel "livecode/internal/execution/model"
	monitormodel "livecode/internal/monitor/model"
)

// Event writes one run channel event. Program output is written verbatim.
func Event(w io.Writer, ev execmodel.Event) {
	switch ev.Type {
	case execmodel.EventStarted:
		fmt.Fprintf(w, "[started %s]\n", ev.SessionID)
	case execmodel.EventCompileLog:
		fmt.Fprintf(w, "[compile]\n%s", ensureNewline(ev.Data))
	case execmodel.EventOutput:
		io.WriteString(w, ev.Data)
	case execmodel.EventNotice:
		fmt.Fprintf(w, "[notice] %s\n", ev.Message)
	case execmodel.EventOutcome:
		if ev.Outcome != nil {
			fmt.Fprintf(w, "[%s]\n", Outcome(*ev.Outcome))
		}
	case execmodel.EventError:
		fmt.Fprintf(w, "[error %d] %s\n", ev.Code, ev.Message)
	default:
		fmt.Fprintf(w, "[%s]\n", ev.Type)
	}
}

// Outcome summarizes a run outcome on one line.
func Outcome(o execmodel.RunOutcome) string {
	parts := []string{string(o.Kind)}
	if o.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit=%d", *o.ExitCode))
	}
	if o.Reason != "" {
		parts = append(parts, "reason="+string(o.Reason))
	}
	parts = append(parts, fmt.Sprintf("%dms", o.ElapsedMs))
	return strings.Join(parts, " ")
}

// Snapshot writes a monitor envelope. Snapshots are rendered as a table.
func Snapshot(w io.Writer, env monitormodel.Envelope) {
	if env.Type == monitormodel.FrameError {
		fmt.Fprintf(w, "[%s error %d] %s\n", env.TestID, env.Code, env.Message)
		return
	}
	fmt.Fprintf(w, "== %s: %d students ==\n", env.TestID, len(env.Students))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPROGRESS\tSCORE\tERRORS\tWPM\tLAST ACTIVE")
	for _, s := range env.Students {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%g\t%d\t%.1f\t%s\n",
			s.StudentID, s.Name, s.Status, s.Progress, s.Score, s.Errors, s.WPM, lastActive(s.LastActiveAt))
	}
	_ = tw.Flush()
}

func lastActive(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
