// Package pipeline defines the HiChIP processing steps, resolves their
// file-based dependencies into an explicit DAG, and executes the DAG with
// a bounded worker pool. Each step wraps exactly one external tool chain;
// the science happens in the tools, the ordering and plumbing happens here.
package pipeline

import (
	"fmt"
	"path/filepath"
)

// Kind distinguishes per-sample from per-group processing units.
type Kind int

// Processing unit kinds.
const (
	SampleUnit Kind = iota
	GroupUnit
)

// Unit is the sample or group identifier a step operates on.
type Unit struct {
	ID   string
	Kind Kind
}

// String renders the unit for logs and error messages.
func (u Unit) String() string {
	if u.Kind == GroupUnit {
		return "group " + u.ID
	}
	return "sample " + u.ID
}

// Layout templates every artifact path under the working directory. Each
// path embeds the unit identifier as both a directory component and a
// filename stem, so distinct identifiers (which cannot contain path
// separators) can never template to the same output path.
type Layout struct {
	Workdir string
}

// path builds workdir/<area>/<id>/<id><suffix>.
func (l Layout) path(area, id, suffix string) string {
	return filepath.Join(l.Workdir, area, id, id+suffix)
}

// FastqcHTML is the per-read QC report, read is 1 or 2.
func (l Layout) FastqcHTML(sample string, read int) string {
	return l.path("qc", sample, fmt.Sprintf("_R%d_fastqc.html", read))
}

// QCDir is the directory holding a sample's QC reports.
func (l Layout) QCDir(sample string) string {
	return filepath.Join(l.Workdir, "qc", sample)
}

// SortedPairs is the parsed, coordinate-sorted pair file from alignment.
func (l Layout) SortedPairs(sample string) string {
	return l.path("pairs", sample, ".sorted.pairs.gz")
}

// DedupPairs is the duplicate-marked pair file.
func (l Layout) DedupPairs(sample string) string {
	return l.path("pairs", sample, ".dedup.pairs.gz")
}

// DedupStats is the deduplication statistics file.
func (l Layout) DedupStats(sample string) string {
	return l.path("stats", sample, ".dedup.stats.txt")
}

// SimpleStats is the simplified form of the dedup statistics.
func (l Layout) SimpleStats(sample string) string {
	return l.path("stats", sample, ".dedup.stats.simple.txt")
}

// SummaryReport is the generated per-sample text summary.
func (l Layout) SummaryReport(sample string) string {
	return l.path("stats", sample, ".summary.txt")
}

// FinalPairs is the deduplicated pair file after splitting.
func (l Layout) FinalPairs(sample string) string {
	return l.path("pairs", sample, ".final.pairs.gz")
}

// UnsortedBAM is the alignment file produced by pair splitting.
func (l Layout) UnsortedBAM(sample string) string {
	return l.path("align", sample, ".unsorted.bam")
}

// BAM is the coordinate-sorted alignment file.
func (l Layout) BAM(sample string) string {
	return l.path("align", sample, ".bam")
}

// BAI is the alignment index.
func (l Layout) BAI(sample string) string {
	return l.path("align", sample, ".bam.bai")
}

// EnrichmentText is the peak-enrichment QC raw counts file.
func (l Layout) EnrichmentText(sample string) string {
	return l.path("qc", sample, ".enrichment.txt")
}

// EnrichmentPlot is the peak-enrichment QC image.
func (l Layout) EnrichmentPlot(sample string) string {
	return l.path("qc", sample, ".enrichment.png")
}

// MergedPairs is the group-level pair file merged from member samples.
func (l Layout) MergedPairs(group string) string {
	return l.path("pairs", group, ".pairs.gz")
}

// ContactMap is the genomic contact map for a sample or group.
func (l Layout) ContactMap(u Unit) string {
	return l.path("cooler", u.ID, ".cool")
}

// Interactions is the converted pair-format file consumed by the
// downstream statistical pipeline.
func (l Layout) Interactions(u Unit) string {
	return l.path("fithichip", u.ID, ".interactions.gz")
}
