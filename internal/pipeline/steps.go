package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/seqwright/hichipgo/internal/config"
	"github.com/seqwright/hichipgo/internal/report"
	"github.com/seqwright/hichipgo/internal/resource"
	"github.com/seqwright/hichipgo/internal/shell"
	"github.com/seqwright/hichipgo/internal/workspace"
)

// contactMapResolution is the bin size, in base pairs, of generated
// contact maps.
const contactMapResolution = 5000

// minMapQ is the mapping-quality cutoff applied while parsing alignments
// into pairs, matching the wrapped pairtools contract.
const minMapQ = 40

// Steps materializes every step of the run from the configuration: the
// per-sample chain, then the per-group aggregation steps.
func Steps(cfg *config.Pipeline) []*Step {
	l := Layout{Workdir: cfg.Workdir}

	var steps []*Step
	for _, s := range cfg.Samples {
		steps = append(steps,
			fastqcStep(cfg, l, s),
			alignStep(cfg, l, s),
			dedupStep(cfg, l, s),
			statsStep(cfg, l, s),
			splitStep(cfg, l, s),
			sortIndexStep(cfg, l, s),
			contactMapStep(cfg, l, Unit{ID: s.ID, Kind: SampleUnit}, l.FinalPairs(s.ID)),
			convertPairsStep(cfg, l, Unit{ID: s.ID, Kind: SampleUnit}, l.FinalPairs(s.ID)),
		)
		if cfg.Peaks != "" {
			steps = append(steps, enrichQCStep(cfg, l, s))
		}
	}

	for _, g := range cfg.Groups {
		unit := Unit{ID: g.ID, Kind: GroupUnit}
		steps = append(steps,
			mergePairsStep(cfg, l, g),
			contactMapStep(cfg, l, unit, l.MergedPairs(g.ID)),
			convertPairsStep(cfg, l, unit, l.MergedPairs(g.ID)),
			groupStatsStep(cfg, l, g),
		)
	}
	return steps
}

// fastqcStep runs read-level quality control. The fastq files are
// symlinked under the sample name first so the report files carry the
// sample identifier instead of whatever the sequencing facility called
// the inputs.
func fastqcStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepFastqc)
	r1HTML := s.ID + "_R1_fastqc.html"
	r2HTML := s.ID + "_R2_fastqc.html"

	return &Step{
		Name:    StepFastqc,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{s.FastqR1, s.FastqR2},
		Outputs: []string{l.FastqcHTML(s.ID, 1), l.FastqcHTML(s.ID, 2)},
		Profile: prof,
		Tools:   []string{"ln", "fastqc"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			r1 := ws.Path(s.ID + "_R1.fastq.gz")
			r2 := ws.Path(s.ID + "_R2.fastq.gz")
			return shell.NewScript().
				ThenCmd(shell.New("ln", "-sf", s.FastqR1, r1)).
				ThenCmd(shell.New("ln", "-sf", s.FastqR2, r2)).
				ThenCmd(shell.New("fastqc", "--quiet").
					IntFlag("-t", prof.Threads).
					Flag("-o", ws.Dir()).
					Arg(r1, r2))
		},
		Stage: map[string]string{
			r1HTML: l.FastqcHTML(s.ID, 1),
			r2HTML: l.FastqcHTML(s.ID, 2),
		},
	}
}

// alignStep maps read pairs and parses the alignments into a sorted pair
// file: bwa mem piped into pairtools parse piped into pairtools sort.
func alignStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepAlign)
	staged := s.ID + ".sorted.pairs.gz"

	return &Step{
		Name: StepAlign,
		Unit: Unit{ID: s.ID, Kind: SampleUnit},
		Inputs: []string{
			s.FastqR1,
			s.FastqR2,
			cfg.Reference.BWAIndex + ".bwt",
			cfg.Reference.ChromSizes,
		},
		Outputs: []string{l.SortedPairs(s.ID)},
		Profile: prof,
		Tools:   []string{"bwa", "pairtools"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript(
				shell.NewPipeline(
					shell.New("bwa", "mem", "-5SP", "-T0").
						IntFlag("-t", prof.Threads).
						Arg(cfg.Reference.BWAIndex, s.FastqR1, s.FastqR2),
				).Pipe(
					shell.New("pairtools", "parse").
						IntFlag("--min-mapq", minMapQ).
						Flag("--walks-policy", "5unique").
						IntFlag("--max-inter-align-gap", 30).
						Flag("--chroms-path", cfg.Reference.ChromSizes).
						IntFlag("--nproc-in", prof.Threads).
						IntFlag("--nproc-out", prof.Threads),
				).Pipe(
					shell.New("pairtools", "sort").
						IntFlag("--nproc", prof.Threads).
						Flag("--tmpdir", ws.Dir()).
						Flag("--memory", resource.ToolMemory(prof.Memory).String()).
						Flag("-o", ws.Path(staged)),
				),
			)
		},
		Stage: map[string]string{staged: l.SortedPairs(s.ID)},
	}
}

// dedupStep detects and marks duplicate pairs, emitting the deduplicated
// pair file and the statistics file consumed by the stats step.
func dedupStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepDedup)
	stagedPairs := s.ID + ".dedup.pairs.gz"
	stagedStats := s.ID + ".dedup.stats.txt"

	return &Step{
		Name:    StepDedup,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{l.SortedPairs(s.ID)},
		Outputs: []string{l.DedupPairs(s.ID), l.DedupStats(s.ID)},
		Profile: prof,
		Tools:   []string{"pairtools"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("pairtools", "dedup", "--mark-dups").
					Flag("--output-stats", ws.Path(stagedStats)).
					IntFlag("--nproc-in", prof.Threads).
					IntFlag("--nproc-out", prof.Threads).
					Flag("-o", ws.Path(stagedPairs)).
					Arg(l.SortedPairs(s.ID)))
		},
		Stage: map[string]string{
			stagedPairs: l.DedupPairs(s.ID),
			stagedStats: l.DedupStats(s.ID),
		},
	}
}

// statsStep derives the simplified statistics file and the per-sample
// summary report from the dedup statistics. This is the one step whose
// work happens in-process rather than in a wrapped tool.
func statsStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	stagedSimple := s.ID + ".dedup.stats.simple.txt"
	stagedSummary := s.ID + ".summary.txt"

	return &Step{
		Name:    StepStats,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{l.DedupStats(s.ID)},
		Outputs: []string{l.SimpleStats(s.ID), l.SummaryReport(s.ID)},
		Profile: cfg.Resources.Lookup(StepStats),
		Post: func(ctx context.Context, ws *workspace.Scoped) error {
			stats, err := report.ParseStats(l.DedupStats(s.ID))
			if err != nil {
				return err
			}
			summary, err := report.Summarize(s.ID, stats)
			if err != nil {
				return err
			}
			if err := os.WriteFile(ws.Path(stagedSimple), []byte(summary.Simplified()), 0o644); err != nil {
				return fmt.Errorf("writing simplified stats: %w", err)
			}
			if err := os.WriteFile(ws.Path(stagedSummary), []byte(summary.Render()), 0o644); err != nil {
				return fmt.Errorf("writing summary report: %w", err)
			}
			return nil
		},
		Stage: map[string]string{
			stagedSimple:  l.SimpleStats(s.ID),
			stagedSummary: l.SummaryReport(s.ID),
		},
	}
}

// splitStep separates the deduplicated pairs into the final pair file and
// an alignment file for downstream enrichment QC.
func splitStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepSplit)
	stagedPairs := s.ID + ".final.pairs.gz"
	stagedBAM := s.ID + ".unsorted.bam"

	return &Step{
		Name:    StepSplit,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{l.DedupPairs(s.ID)},
		Outputs: []string{l.FinalPairs(s.ID), l.UnsortedBAM(s.ID)},
		Profile: prof,
		Tools:   []string{"pairtools"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("pairtools", "split").
					Flag("--output-pairs", ws.Path(stagedPairs)).
					Flag("--output-sam", ws.Path(stagedBAM)).
					IntFlag("--nproc-in", prof.Threads).
					IntFlag("--nproc-out", prof.Threads).
					Arg(l.DedupPairs(s.ID)))
		},
		Stage: map[string]string{
			stagedPairs: l.FinalPairs(s.ID),
			stagedBAM:   l.UnsortedBAM(s.ID),
		},
	}
}

// sortIndexStep coordinate-sorts and indexes the alignment file.
func sortIndexStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepSortIndex)
	stagedBAM := s.ID + ".bam"
	stagedBAI := s.ID + ".bam.bai"

	return &Step{
		Name:    StepSortIndex,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{l.UnsortedBAM(s.ID)},
		Outputs: []string{l.BAM(s.ID), l.BAI(s.ID)},
		Profile: prof,
		Tools:   []string{"samtools"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().
				ThenCmd(shell.New("samtools", "sort").
					IntFlag("-@", prof.Threads).
					Flag("-m", sortThreadMemory(prof).String()).
					Flag("-T", ws.Path("sorttmp")).
					Flag("-o", ws.Path(stagedBAM)).
					Arg(l.UnsortedBAM(s.ID))).
				ThenCmd(shell.New("samtools", "index").
					IntFlag("-@", prof.Threads).
					Arg(ws.Path(stagedBAM), ws.Path(stagedBAI)))
		},
		Stage: map[string]string{
			stagedBAM: l.BAM(s.ID),
			stagedBAI: l.BAI(s.ID),
		},
	}
}

// sortThreadMemory splits the tool-facing memory across sort threads; the
// sorter's -m flag is per thread, not per process.
func sortThreadMemory(p resource.Profile) resource.Memory {
	m := resource.ToolMemory(p.Memory) / resource.Memory(p.Threads)
	if m < resource.Gibibyte {
		m = resource.Gibibyte
	}
	return m
}

// contactMapStep bins a pair file into a genomic contact map. Used for
// both sample-level and group-level pairs, which is why the source pair
// path is a parameter.
func contactMapStep(cfg *config.Pipeline, l Layout, u Unit, pairs string) *Step {
	prof := cfg.Resources.Lookup(StepContactMap)
	staged := u.ID + ".cool"

	return &Step{
		Name:    StepContactMap,
		Unit:    u,
		Inputs:  []string{pairs, cfg.Reference.ChromSizes},
		Outputs: []string{l.ContactMap(u)},
		Profile: prof,
		Tools:   []string{"cooler"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("cooler", "cload", "pairs").
					Flag("--assembly", cfg.Genome).
					IntFlag("-c1", 2).IntFlag("-p1", 3).
					IntFlag("-c2", 4).IntFlag("-p2", 5).
					Arg(
						fmt.Sprintf("%s:%d", cfg.Reference.ChromSizes, contactMapResolution),
						pairs,
						ws.Path(staged),
					))
		},
		Stage: map[string]string{staged: l.ContactMap(u)},
	}
}

// convertPairsStep rewrites a pair file into the seven-column interactions
// format the downstream statistical pipeline ingests. The column order is
// that tool's fixed contract: readID chr1 pos1 strand1 chr2 pos2 strand2.
func convertPairsStep(cfg *config.Pipeline, l Layout, u Unit, pairs string) *Step {
	prof := cfg.Resources.Lookup(StepConvertPairs)
	staged := u.ID + ".interactions.gz"

	return &Step{
		Name:    StepConvertPairs,
		Unit:    u,
		Inputs:  []string{pairs},
		Outputs: []string{l.Interactions(u)},
		Profile: prof,
		Tools:   []string{"gzip", "grep", "awk"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript(
				shell.NewPipeline(
					shell.New("gzip", "-dc", pairs),
				).Pipe(
					shell.New("grep", "-v", "^#"),
				).Pipe(
					shell.New("awk", `BEGIN{OFS="\t"}{print $1,$2,$3,$6,$4,$5,$7}`),
				).Pipe(
					shell.New("gzip", "-c"),
				).RedirectStdout(ws.Path(staged)),
			)
		},
		Stage: map[string]string{staged: l.Interactions(u)},
	}
}

// enrichQCStep measures read enrichment over the supplied peak annotation,
// producing the QC counts file and plot. Only built when a peaks file is
// configured.
func enrichQCStep(cfg *config.Pipeline, l Layout, s config.Sample) *Step {
	prof := cfg.Resources.Lookup(StepEnrichQC)
	stagedTxt := s.ID + ".enrichment.txt"
	stagedPlot := s.ID + ".enrichment.png"

	return &Step{
		Name:    StepEnrichQC,
		Unit:    Unit{ID: s.ID, Kind: SampleUnit},
		Inputs:  []string{l.BAM(s.ID), l.BAI(s.ID), cfg.Peaks},
		Outputs: []string{l.EnrichmentText(s.ID), l.EnrichmentPlot(s.ID)},
		Profile: prof,
		Tools:   []string{"plotEnrichment"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("plotEnrichment").
					IntFlag("-p", prof.Threads).
					Flag("--bamfiles", l.BAM(s.ID)).
					Flag("--BED", cfg.Peaks).
					Flag("--outRawCounts", ws.Path(stagedTxt)).
					Flag("--plotFile", ws.Path(stagedPlot)))
		},
		Stage: map[string]string{
			stagedTxt:  l.EnrichmentText(s.ID),
			stagedPlot: l.EnrichmentPlot(s.ID),
		},
	}
}

// groupStatsStep aggregates the member samples' simplified statistics
// into a group summary with the duplication-rate spread across members.
func groupStatsStep(cfg *config.Pipeline, l Layout, g config.Group) *Step {
	staged := g.ID + ".summary.txt"

	inputs := make([]string, len(g.Members))
	for i, member := range g.Members {
		inputs[i] = l.SimpleStats(member)
	}

	return &Step{
		Name:    StepGroupStats,
		Unit:    Unit{ID: g.ID, Kind: GroupUnit},
		Inputs:  inputs,
		Outputs: []string{l.SummaryReport(g.ID)},
		Profile: cfg.Resources.Lookup(StepGroupStats),
		Post: func(ctx context.Context, ws *workspace.Scoped) error {
			members := make([]*report.Summary, 0, len(g.Members))
			for _, path := range inputs {
				m, err := report.ParseSimplified(path)
				if err != nil {
					return err
				}
				members = append(members, m)
			}
			summary := report.NewGroupSummary(g.ID, members)
			if err := os.WriteFile(ws.Path(staged), []byte(summary.Render()), 0o644); err != nil {
				return fmt.Errorf("writing group summary: %w", err)
			}
			return nil
		},
		Stage: map[string]string{staged: l.SummaryReport(g.ID)},
	}
}

// mergePairsStep merges the member samples' deduplicated pair files into
// one group-level pair file. Inputs follow configuration order so the
// merge command is stable across runs.
func mergePairsStep(cfg *config.Pipeline, l Layout, g config.Group) *Step {
	prof := cfg.Resources.Lookup(StepMergePairs)
	staged := g.ID + ".pairs.gz"

	inputs := make([]string, len(g.Members))
	for i, member := range g.Members {
		inputs[i] = l.DedupPairs(member)
	}

	return &Step{
		Name:    StepMergePairs,
		Unit:    Unit{ID: g.ID, Kind: GroupUnit},
		Inputs:  inputs,
		Outputs: []string{l.MergedPairs(g.ID)},
		Profile: prof,
		Tools:   []string{"pairtools"},
		Build: func(ws *workspace.Scoped) *shell.Script {
			return shell.NewScript().ThenCmd(
				shell.New("pairtools", "merge").
					IntFlag("--nproc", prof.Threads).
					Flag("-o", ws.Path(staged)).
					Arg(inputs...))
		},
		Stage: map[string]string{staged: l.MergedPairs(g.ID)},
	}
}
