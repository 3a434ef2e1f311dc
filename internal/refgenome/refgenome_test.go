package refgenome

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBundle lays down a minimal on-disk reference: an index prefix with
// its .bwt companion and a two-column chrom-sizes file.
func testBundle(t *testing.T, chromSizes string) Bundle {
	t.Helper()
	dir := t.TempDir()

	prefix := filepath.Join(dir, "hg38")
	require.NoError(t, os.WriteFile(prefix+".bwt", []byte("index"), 0o644))

	sizes := filepath.Join(dir, "hg38.chrom.sizes")
	require.NoError(t, os.WriteFile(sizes, []byte(chromSizes), 0o644))

	return Bundle{BWAIndex: prefix, ChromSizes: sizes}
}

func TestValidateAcceptsCompleteBundle(t *testing.T) {
	b := testBundle(t, "chr1\t248956422\nchr2\t242193529\n")
	assert.NoError(t, b.Validate())
}

func TestValidateRejectsMissingIndex(t *testing.T) {
	b := testBundle(t, "chr1\t1000\n")
	require.NoError(t, os.Remove(b.BWAIndex+".bwt"))

	err := b.Validate()
	assert.ErrorContains(t, err, ".bwt")
}

func TestValidateRejectsEmptyIndexPath(t *testing.T) {
	b := testBundle(t, "chr1\t1000\n")
	b.BWAIndex = ""
	assert.ErrorContains(t, b.Validate(), "index path")
}

func TestValidateRejectsMissingChromSizes(t *testing.T) {
	b := testBundle(t, "chr1\t1000\n")
	require.NoError(t, os.Remove(b.ChromSizes))
	assert.Error(t, b.Validate())
}

func TestValidateRejectsEmptyChromSizes(t *testing.T) {
	b := testBundle(t, "")
	assert.ErrorContains(t, b.Validate(), "no chromosomes")
}

func TestValidateRejectsMalformedChromSizes(t *testing.T) {
	// Malformed lines must come back as configuration errors naming the
	// file and line, not abort the process inside the parser.
	cases := map[string]string{
		"missing column":     "chr1\t1000\nchr2 500\n",
		"extra column":       "chr1\t1000\t+\n",
		"non-integer length": "chr1\tbig\n",
		"blank line":         "chr1\t1000\n\nchr2\t500\n",
		"empty name":         "\t1000\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			b := testBundle(t, content)
			err := b.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, b.ChromSizes)
			assert.ErrorContains(t, err, "line")
		})
	}
}

func TestValidateRejectsNonPositiveLength(t *testing.T) {
	b := testBundle(t, "chr1\t1000\nchrM\t0\n")
	assert.ErrorContains(t, b.Validate(), "non-positive length")
}

func TestValidateRejectsDuplicateChromosome(t *testing.T) {
	b := testBundle(t, "chr1\t1000\nchr1\t1000\n")
	assert.ErrorContains(t, b.Validate(), "twice")
}

func TestTableLookup(t *testing.T) {
	table := NewTable(map[string]Bundle{
		"hg38": {BWAIndex: "/i", ChromSizes: "/c"},
	})

	b, err := table.Lookup("hg38")
	require.NoError(t, err)
	assert.Equal(t, "/i", b.BWAIndex)

	_, err = table.Lookup("mm10")
	assert.ErrorContains(t, err, "mm10")

	assert.ElementsMatch(t, []string{"hg38"}, table.Genomes())
}
