// Package resource holds the per-step compute resource table: thread
// counts, memory allocations and walltimes keyed by step name. The table is
// built once at configuration load and is read-only afterwards.
package resource

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Memory is an amount of memory in mebibytes.
type Memory int64

// Memory units accepted by ParseMemory.
const (
	Mebibyte Memory = 1
	Gibibyte Memory = 1024 * Mebibyte
	Tebibyte Memory = 1024 * Gibibyte
)

// ParseMemory parses a scheduler-style memory string such as "32G", "32GB",
// "8000M" or "1T". A bare number is taken as mebibytes.
func ParseMemory(s string) (Memory, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty memory value")
	}

	unit := Mebibyte
	numPart := strings.ToUpper(trimmed)
	numPart = strings.TrimSuffix(numPart, "B")
	switch {
	case strings.HasSuffix(numPart, "T"):
		unit = Tebibyte
		numPart = strings.TrimSuffix(numPart, "T")
	case strings.HasSuffix(numPart, "G"):
		unit = Gibibyte
		numPart = strings.TrimSuffix(numPart, "G")
	case strings.HasSuffix(numPart, "M"):
		numPart = strings.TrimSuffix(numPart, "M")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable memory value %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("memory value %q must be positive", s)
	}
	return Memory(n) * unit, nil
}

// Gigabytes returns the memory rounded down to whole gibibytes, with a
// minimum of one. Tools that take a "-m 4G" style flag use this.
func (m Memory) Gigabytes() int64 {
	g := int64(m / Gibibyte)
	if g < 1 {
		g = 1
	}
	return g
}

// String renders the memory in the same unit style ParseMemory accepts.
func (m Memory) String() string {
	if m >= Gibibyte && m%Gibibyte == 0 {
		return fmt.Sprintf("%dG", m/Gibibyte)
	}
	return fmt.Sprintf("%dM", int64(m))
}

// Reserved headroom between the memory granted to a step and the memory
// handed to the wrapped tool, and the floor below which the tool-facing
// value never drops. Sorting tools allocate right up to their limit; the
// headroom keeps the step's own process tree inside its grant.
const (
	ToolOverhead = 2 * Gibibyte
	ToolFloor    = 1 * Gibibyte
)

// ToolMemory derives the tool-facing memory from a step's configured
// allocation: the fixed overhead is subtracted and the result is floored at
// ToolFloor. The derivation is deterministic and monotonic in m.
func ToolMemory(m Memory) Memory {
	derived := m - ToolOverhead
	if derived < ToolFloor {
		derived = ToolFloor
	}
	return derived
}

// Walltime is a maximum step duration, parsed from scheduler notation.
type Walltime time.Duration

// ParseWalltime parses "HH:MM:SS" or the day-prefixed "D-HH:MM:SS" form.
func ParseWalltime(s string) (Walltime, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty walltime value")
	}

	var days int64
	clock := trimmed
	if before, after, found := strings.Cut(trimmed, "-"); found {
		d, err := strconv.ParseInt(before, 10, 64)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("unparsable walltime value %q", s)
		}
		days = d
		clock = after
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("unparsable walltime value %q (want HH:MM:SS or D-HH:MM:SS)", s)
	}
	var fields [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("unparsable walltime value %q", s)
		}
		fields[i] = v
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second
	if d <= 0 {
		return 0, fmt.Errorf("walltime value %q must be positive", s)
	}
	return Walltime(d), nil
}

// Duration returns the walltime as a time.Duration.
func (w Walltime) Duration() time.Duration { return time.Duration(w) }

// String renders the walltime in D-HH:MM:SS notation.
func (w Walltime) String() string {
	d := time.Duration(w)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, d/time.Second)
}

// Profile is the compute allocation for one step invocation.
type Profile struct {
	Threads  int
	Memory   Memory
	Walltime Walltime
}

// Spec is the raw, unvalidated form of a profile as it appears in
// configuration files.
type Spec struct {
	Threads  int
	Memory   string
	Walltime string
}

// DefaultProfile is returned by Lookup for steps absent from the table.
var DefaultProfile = Profile{
	Threads:  4,
	Memory:   8 * Gibibyte,
	Walltime: Walltime(4 * time.Hour),
}

// Table maps step names to resource profiles. It is immutable once built.
type Table struct {
	profiles map[string]Profile
}

// NewTable validates every raw spec and builds the lookup table. Any
// non-positive thread count or unparsable memory/walltime string is a
// configuration error and fails the whole table.
func NewTable(raw map[string]Spec) (*Table, error) {
	profiles := make(map[string]Profile, len(raw))
	for step, spec := range raw {
		if spec.Threads <= 0 {
			return nil, fmt.Errorf("resources for step %q: threads must be positive, got %d", step, spec.Threads)
		}
		mem, err := ParseMemory(spec.Memory)
		if err != nil {
			return nil, fmt.Errorf("resources for step %q: %w", step, err)
		}
		wt, err := ParseWalltime(spec.Walltime)
		if err != nil {
			return nil, fmt.Errorf("resources for step %q: %w", step, err)
		}
		profiles[step] = Profile{Threads: spec.Threads, Memory: mem, Walltime: wt}
	}
	return &Table{profiles: profiles}, nil
}

// Lookup returns the configured profile for a step, or DefaultProfile if
// the step is not in the table.
func (t *Table) Lookup(step string) Profile {
	if t != nil {
		if p, ok := t.profiles[step]; ok {
			return p
		}
	}
	return DefaultProfile
}

// Steps returns the step names present in the table.
func (t *Table) Steps() []string {
	names := make([]string, 0, len(t.profiles))
	for name := range t.profiles {
		names = append(names, name)
	}
	return names
}
