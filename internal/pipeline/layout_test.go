package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqwright/hichipgo/internal/config"
	"github.com/seqwright/hichipgo/internal/refgenome"
	"github.com/seqwright/hichipgo/internal/resource"
)

func testPipelineConfig(t *testing.T) *config.Pipeline {
	t.Helper()
	table, err := resource.NewTable(nil)
	require.NoError(t, err)

	return &config.Pipeline{
		Workdir: "/data/run1",
		Tmpdir:  t.TempDir(),
		Genome:  "hg38",
		Peaks:   "/refs/peaks.bed",
		Samples: []config.Sample{
			{ID: "S1", FastqR1: "/fq/S1_R1.fastq.gz", FastqR2: "/fq/S1_R2.fastq.gz"},
			{ID: "S2", FastqR1: "/fq/S2_R1.fastq.gz", FastqR2: "/fq/S2_R2.fastq.gz"},
		},
		Groups: []config.Group{
			{ID: "G1", Members: []string{"S1", "S2"}},
		},
		Resources: table,
		Reference: refgenome.Bundle{
			BWAIndex:   "/refs/hg38/bwa/hg38",
			ChromSizes: "/refs/hg38/hg38.chrom.sizes",
		},
	}
}

func TestLayoutEmbedsIdentifier(t *testing.T) {
	l := Layout{Workdir: "/w"}
	assert.Equal(t, "/w/pairs/S1/S1.dedup.pairs.gz", l.DedupPairs("S1"))
	assert.Equal(t, "/w/cooler/G1/G1.cool", l.ContactMap(Unit{ID: "G1", Kind: GroupUnit}))
	assert.Equal(t, "/w/qc/S1/S1_R2_fastqc.html", l.FastqcHTML("S1", 2))
}

func TestLayoutDistinctIdentifiersNeverCollide(t *testing.T) {
	l := Layout{Workdir: "/w"}
	ids := []string{"S1", "S2", "S1.rep2", "S1_rep2", "s1", "G1"}

	seen := make(map[string]string)
	for _, id := range ids {
		for name, path := range map[string]string{
			"sorted":       l.SortedPairs(id),
			"dedup":        l.DedupPairs(id),
			"stats":        l.DedupStats(id),
			"final":        l.FinalPairs(id),
			"bam":          l.BAM(id),
			"cool":         l.ContactMap(Unit{ID: id}),
			"interactions": l.Interactions(Unit{ID: id}),
		} {
			prev, dup := seen[path]
			require.False(t, dup, "path %s for %s/%s already produced by %s", path, id, name, prev)
			seen[path] = id + "/" + name
		}
	}
}

func TestStepsDeclareUniqueOutputs(t *testing.T) {
	cfg := testPipelineConfig(t)
	steps := Steps(cfg)

	producers := make(map[string]string)
	for _, step := range steps {
		for _, out := range step.Outputs {
			prev, dup := producers[out]
			require.False(t, dup, "output %s produced by both %s and %s", out, prev, step.Key())
			producers[out] = step.Key()
		}
	}
}

func TestStepsSkipEnrichmentWithoutPeaks(t *testing.T) {
	cfg := testPipelineConfig(t)
	cfg.Peaks = ""

	for _, step := range Steps(cfg) {
		assert.NotEqual(t, StepEnrichQC, step.Name)
	}
}

func TestStepsUseConfiguredResources(t *testing.T) {
	cfg := testPipelineConfig(t)
	table, err := resource.NewTable(map[string]resource.Spec{
		StepAlign: {Threads: 24, Memory: "48G", Walltime: "2-00:00:00"},
	})
	require.NoError(t, err)
	cfg.Resources = table

	for _, step := range Steps(cfg) {
		if step.Name == StepAlign {
			assert.Equal(t, 24, step.Profile.Threads)
			assert.Equal(t, 48*resource.Gibibyte, step.Profile.Memory)
		} else {
			assert.Equal(t, resource.DefaultProfile, step.Profile, "step %s", step.Key())
		}
	}
}

func TestSortThreadMemorySplitsAcrossThreads(t *testing.T) {
	p := resource.Profile{Threads: 4, Memory: 10 * resource.Gibibyte}
	// 10G minus overhead is 8G, split four ways.
	assert.Equal(t, 2*resource.Gibibyte, sortThreadMemory(p))

	// Never below one gibibyte per thread.
	p = resource.Profile{Threads: 16, Memory: 4 * resource.Gibibyte}
	assert.Equal(t, resource.Gibibyte, sortThreadMemory(p))
}
