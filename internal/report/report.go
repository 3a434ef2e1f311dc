// Package report turns the dedup statistics emitted by the pair toolkit
// into the simplified stats file and the human-readable summary the
// pipeline publishes per sample and per group.
package report

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/stat"
)

// Stats is the parsed key/value dedup statistics file.
type Stats struct {
	values map[string]float64
}

// ParseStats reads a tab-delimited key/value statistics file. Nested keys
// (chromosome frequency tables and the like) and non-numeric values are
// ignored; only the flat counters matter here.
func ParseStats(path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dedup stats: %w", err)
	}
	defer f.Close()

	stats := &Stats{values: make(map[string]float64)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "\t")
		if !found || strings.Contains(key, "/") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		stats.values[key] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dedup stats %s: %w", path, err)
	}
	if len(stats.values) == 0 {
		return nil, fmt.Errorf("dedup stats %s contains no counters", path)
	}
	return stats, nil
}

// Value returns a counter by key.
func (s *Stats) Value(key string) (float64, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Summary is the simplified view of one sample's dedup statistics.
type Summary struct {
	Sample string

	Total      float64
	Mapped     float64
	Duplicates float64
	Unique     float64
	Cis        float64
	Trans      float64
	CisFar     float64 // cis pairs spanning at least 1 kb

	DupRate     float64
	CisFraction float64
}

// requiredKeys must be present in the stats file; their absence means the
// dedup tool did not finish writing it.
var requiredKeys = []string{"total", "total_mapped", "total_dups", "total_nodups"}

// Summarize derives the simplified statistics for one sample.
func Summarize(sample string, s *Stats) (*Summary, error) {
	for _, key := range requiredKeys {
		if _, ok := s.Value(key); !ok {
			return nil, fmt.Errorf("dedup stats for %s are missing counter %q", sample, key)
		}
	}

	sum := &Summary{Sample: sample}
	sum.Total, _ = s.Value("total")
	sum.Mapped, _ = s.Value("total_mapped")
	sum.Duplicates, _ = s.Value("total_dups")
	sum.Unique, _ = s.Value("total_nodups")
	sum.Cis, _ = s.Value("cis")
	sum.Trans, _ = s.Value("trans")
	sum.CisFar, _ = s.Value("cis_1kb+")

	if sum.Mapped > 0 {
		sum.DupRate = sum.Duplicates / sum.Mapped
	}
	if sum.Unique > 0 {
		sum.CisFraction = sum.Cis / sum.Unique
	}
	return sum, nil
}

// simplifiedFields orders the simplified stats file; parsing relies on
// this order being stable.
var simplifiedFields = []string{
	"sample", "total", "mapped", "duplicates", "unique",
	"cis", "trans", "cis_1kb", "dup_rate", "cis_fraction",
}

// Simplified renders the summary as a flat key/value file.
func (s *Summary) Simplified() string {
	var b strings.Builder
	write := func(key, value string) {
		b.WriteString(key)
		b.WriteString("\t")
		b.WriteString(value)
		b.WriteString("\n")
	}
	write("sample", s.Sample)
	write("total", formatCount(s.Total))
	write("mapped", formatCount(s.Mapped))
	write("duplicates", formatCount(s.Duplicates))
	write("unique", formatCount(s.Unique))
	write("cis", formatCount(s.Cis))
	write("trans", formatCount(s.Trans))
	write("cis_1kb", formatCount(s.CisFar))
	write("dup_rate", strconv.FormatFloat(s.DupRate, 'f', 4, 64))
	write("cis_fraction", strconv.FormatFloat(s.CisFraction, 'f', 4, 64))
	return b.String()
}

// ParseSimplified reads back a simplified stats file written by
// Simplified, used when aggregating samples into a group summary.
func ParseSimplified(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening simplified stats: %w", err)
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "\t")
		if found {
			fields[key] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading simplified stats %s: %w", path, err)
	}
	for _, key := range simplifiedFields {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("simplified stats %s is missing field %q", path, key)
		}
	}

	num := func(key string) float64 {
		v, _ := strconv.ParseFloat(fields[key], 64)
		return v
	}
	return &Summary{
		Sample:      fields["sample"],
		Total:       num("total"),
		Mapped:      num("mapped"),
		Duplicates:  num("duplicates"),
		Unique:      num("unique"),
		Cis:         num("cis"),
		Trans:       num("trans"),
		CisFar:      num("cis_1kb"),
		DupRate:     num("dup_rate"),
		CisFraction: num("cis_fraction"),
	}, nil
}

// Render produces the per-sample text summary, including a small plot of
// the pair category counts for at-a-glance triage.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HiChIP pair summary for sample %s\n\n", s.Sample)
	fmt.Fprintf(&b, "  total pairs       %s\n", formatCount(s.Total))
	fmt.Fprintf(&b, "  mapped pairs      %s\n", formatCount(s.Mapped))
	fmt.Fprintf(&b, "  duplicate pairs   %s (%.1f%%)\n", formatCount(s.Duplicates), 100*s.DupRate)
	fmt.Fprintf(&b, "  unique pairs      %s\n", formatCount(s.Unique))
	fmt.Fprintf(&b, "  cis pairs         %s (%.1f%% of unique)\n", formatCount(s.Cis), 100*s.CisFraction)
	fmt.Fprintf(&b, "  cis pairs >= 1kb  %s\n", formatCount(s.CisFar))
	fmt.Fprintf(&b, "  trans pairs       %s\n", formatCount(s.Trans))
	b.WriteString("\n")
	b.WriteString(asciigraph.Plot(
		[]float64{s.Total, s.Mapped, s.Unique, s.Cis, s.Trans},
		asciigraph.Height(5),
		asciigraph.Precision(0),
	))
	b.WriteString("\n  total > mapped > unique > cis > trans\n")
	return b.String()
}

// GroupSummary aggregates member sample summaries for one group.
type GroupSummary struct {
	Group   string
	Members []*Summary

	MeanDupRate   float64
	StddevDupRate float64
}

// NewGroupSummary computes duplication-rate spread across group members.
func NewGroupSummary(group string, members []*Summary) *GroupSummary {
	rates := make([]float64, len(members))
	for i, m := range members {
		rates[i] = m.DupRate
	}
	mean, std := stat.MeanStdDev(rates, nil)
	if len(rates) < 2 {
		// Stddev of a single observation is undefined; report zero spread.
		std = 0
	}
	return &GroupSummary{
		Group:         group,
		Members:       members,
		MeanDupRate:   mean,
		StddevDupRate: std,
	}
}

// Render produces the group-level text summary.
func (g *GroupSummary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HiChIP group summary for %s (%d samples)\n\n", g.Group, len(g.Members))
	for _, m := range g.Members {
		fmt.Fprintf(&b, "  %-24s unique %-12s dup_rate %.3f\n", m.Sample, formatCount(m.Unique), m.DupRate)
	}
	fmt.Fprintf(&b, "\n  duplication rate: mean %.3f, stddev %.3f\n", g.MeanDupRate, g.StddevDupRate)
	return b.String()
}

// formatCount prints a counter without a fractional part.
func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}
