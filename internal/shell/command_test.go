package shell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain-arg_1.txt", quote("plain-arg_1.txt"))
	assert.Equal(t, "'has space'", quote("has space"))
	assert.Equal(t, "''", quote(""))
	assert.Equal(t, `'a'\''b'`, quote("a'b"))
	assert.Equal(t, "'$HOME'", quote("$HOME"))
	assert.Equal(t, "'a|b'", quote("a|b"))
}

func TestCommandRender(t *testing.T) {
	cmd := New("bwa", "mem", "-5SP").
		IntFlag("-t", 16).
		Flag("-o", "out dir/file.sam").
		Arg("ref.fa", "r1.fq.gz")

	assert.Equal(t, "bwa mem -5SP -t 16 -o 'out dir/file.sam' ref.fa r1.fq.gz", cmd.render())
	assert.Equal(t, "bwa", cmd.Name())
}

func TestPipelineRender(t *testing.T) {
	p := NewPipeline(New("gzip", "-dc", "in.gz")).
		Pipe(New("grep", "-v", "^#")).
		Pipe(New("gzip", "-c")).
		RedirectStdout("out.gz")

	rendered := p.render()
	assert.Contains(t, rendered, "gzip -dc in.gz")
	assert.Contains(t, rendered, "| grep -v '^#'")
	assert.True(t, strings.HasSuffix(rendered, "> out.gz"))
}

func TestScriptRender(t *testing.T) {
	s := NewScript().
		ThenCmd(New("ln", "-sf", "a", "b")).
		Then(NewPipeline(New("cat", "b")).Pipe(New("wc", "-l")))

	rendered := s.Render()
	require.True(t, strings.HasPrefix(rendered, "set -euo pipefail\n"))

	lines := strings.Split(strings.TrimSuffix(rendered, "\n"), "\n")
	assert.Equal(t, "ln -sf a b", lines[1])
	// A failure in any stage of any line must fail the invocation.
	assert.Contains(t, rendered, "pipefail")
}
