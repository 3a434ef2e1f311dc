// Package shell builds and runs the shell invocations that wrap the
// external tools. Commands are assembled as ordered argument lists, never
// by interpolating user input into shell text, so sample identifiers and
// paths cannot break out of their argument position.
package shell

import (
	"strconv"
	"strings"
)

// Command is an ordered argv builder for a single external tool.
type Command struct {
	argv []string
}

// New starts a command with the executable name and any leading arguments.
func New(name string, args ...string) *Command {
	return &Command{argv: append([]string{name}, args...)}
}

// Arg appends positional arguments.
func (c *Command) Arg(args ...string) *Command {
	c.argv = append(c.argv, args...)
	return c
}

// Flag appends a flag and its value as two separate arguments.
func (c *Command) Flag(name, value string) *Command {
	c.argv = append(c.argv, name, value)
	return c
}

// IntFlag appends a flag with an integer value.
func (c *Command) IntFlag(name string, value int) *Command {
	return c.Flag(name, strconv.Itoa(value))
}

// Name returns the executable name the command starts with.
func (c *Command) Name() string {
	if len(c.argv) == 0 {
		return ""
	}
	return c.argv[0]
}

// render quotes each argument for the shell.
func (c *Command) render() string {
	quoted := make([]string, len(c.argv))
	for i, a := range c.argv {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// quote single-quotes an argument unless it is already safe verbatim.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]{}~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Pipeline is a sequence of commands connected by pipes, optionally
// redirecting the final stdout to a file.
type Pipeline struct {
	stages     []*Command
	stdoutPath string
}

// NewPipeline builds a pipeline from one or more commands.
func NewPipeline(stages ...*Command) *Pipeline {
	return &Pipeline{stages: stages}
}

// Pipe appends another stage to the pipeline.
func (p *Pipeline) Pipe(cmd *Command) *Pipeline {
	p.stages = append(p.stages, cmd)
	return p
}

// RedirectStdout sends the final stage's stdout to the given path.
func (p *Pipeline) RedirectStdout(path string) *Pipeline {
	p.stdoutPath = path
	return p
}

// render joins the stages with pipes on one script line.
func (p *Pipeline) render() string {
	rendered := make([]string, len(p.stages))
	for i, s := range p.stages {
		rendered[i] = s.render()
	}
	line := strings.Join(rendered, " \\\n  | ")
	if p.stdoutPath != "" {
		line += " > " + quote(p.stdoutPath)
	}
	return line
}

// Script is the full shell text for one step invocation: one or more
// pipelines executed in order under errexit/pipefail, so a failure in any
// stage of any line fails the whole invocation.
type Script struct {
	lines []*Pipeline
}

// NewScript builds a script from pipelines executed in order.
func NewScript(lines ...*Pipeline) *Script {
	return &Script{lines: lines}
}

// Then appends another pipeline line.
func (s *Script) Then(p *Pipeline) *Script {
	s.lines = append(s.lines, p)
	return s
}

// ThenCmd appends a single command as its own line.
func (s *Script) ThenCmd(c *Command) *Script {
	return s.Then(NewPipeline(c))
}

// Render produces the shell text handed to the interpreter.
func (s *Script) Render() string {
	var b strings.Builder
	b.WriteString("set -euo pipefail\n")
	for _, line := range s.lines {
		b.WriteString(line.render())
		b.WriteString("\n")
	}
	return b.String()
}
