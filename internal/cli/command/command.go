package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// Name identifies a REPL command.
type Name string

const (
	Run       Name = "run"
	Stop      Name = "stop"
	Watch     Name = "watch"
	Unwatch   Name = "unwatch"
	Broadcast Name = "broadcast"
	Health    Name = "health"
	Set       Name = "set"
	Help      Name = "help"
	Exit      Name = "exit"
)

// Command defines one REPL command binding.
type Command struct {
	Name    Name
	Usage   string
	Summary string
	MinArgs int
	MaxArgs int
}

// Invocation is a parsed command line.
type Invocation struct {
	Command Command
	Args    []string
}

// Registry returns all commands keyed by name.
func Registry() map[Name]Command {
	commands := []Command{
		{Name: Run, Usage: "run <language> <file>", Summary: "run a source file; typed lines become its input", MinArgs: 2, MaxArgs: 2},
		{Name: Stop, Usage: "stop", Summary: "stop the active run (:stop while running)"},
		{Name: Watch, Usage: "watch <testId>", Summary: "follow a test's student progress", MinArgs: 1, MaxArgs: 1},
		{Name: Unwatch, Usage: "unwatch <testId>", Summary: "stop following a test", MinArgs: 1, MaxArgs: 1},
		{Name: Broadcast, Usage: "broadcast <testId>", Summary: "ask the service to refresh a test's observers", MinArgs: 1, MaxArgs: 1},
		{Name: Health, Usage: "health", Summary: "show service liveness and counts"},
		{Name: Set, Usage: "set base|timeout|stdin <value>", Summary: "change a client setting", MinArgs: 2, MaxArgs: 2},
		{Name: Help, Usage: "help", Summary: "list commands"},
		{Name: Exit, Usage: "exit", Summary: "quit"},
	}
	out := make(map[Name]Command, len(commands))
	for _, c := range commands {
		out[c.Name] = c
	}
	return out
}

// Parse splits line with shell quoting rules and resolves the command.
func Parse(commands map[Name]Command, line string) (Invocation, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Invocation{}, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return Invocation{}, fmt.Errorf("empty command")
	}
	name := Name(strings.ToLower(tokens[0]))
	if name == "quit" {
		name = Exit
	}
	cmd, ok := commands[name]
	if !ok {
		return Invocation{}, fmt.Errorf("unknown command: %s", tokens[0])
	}
	args := tokens[1:]
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		return Invocation{}, fmt.Errorf("usage: %s", cmd.Usage)
	}
	return Invocation{Command: cmd, Args: args}, nil
}

// Sorted lists commands by name for help output.
func Sorted(commands map[Name]Command) []Command {
	out := make([]Command, 0, len(commands))
	for _, c := range commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
