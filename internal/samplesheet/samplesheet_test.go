package samplesheet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSheet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groups.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseWithHeader(t *testing.T) {
	path := writeSheet(t, "Sample\tGroup\n"+
		"S1\tGrpA\n"+
		"S2\tGrpA\n"+
		"S3\tGrpB\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"GrpA", "GrpB"}, sheet.Groups())
	assert.Equal(t, []string{"S1", "S2"}, sheet.Members("GrpA"))
	assert.Equal(t, []string{"S3"}, sheet.Members("GrpB"))
}

func TestParseMultipleGroupMembership(t *testing.T) {
	path := writeSheet(t, "sample\tgroup\n"+
		"S1\tGrpA,GrpAB\n"+
		"S2\tGrpB;GrpAB\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"GrpA", "GrpAB", "GrpB"}, sheet.Groups())
	assert.Equal(t, []string{"S1", "S2"}, sheet.Members("GrpAB"))
}

func TestParseWithoutHeaderFallsBackToPositionalColumns(t *testing.T) {
	// No recognizable header: the first line is data.
	path := writeSheet(t, "S1\tGrpA\nS2\tGrpA\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"GrpA"}, sheet.Groups())
	assert.Equal(t, []string{"S1", "S2"}, sheet.Members("GrpA"))
}

func TestParseSkipsUnusableLines(t *testing.T) {
	path := writeSheet(t, "sample\tgroup\n"+
		"S1\tGrpA\n"+
		"\n"+
		"onlyonefield\n"+
		"S2\t\n"+
		"S3\tGrpA\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S3"}, sheet.Members("GrpA"))
}

func TestParseDeduplicatesSampleWithinGroup(t *testing.T) {
	path := writeSheet(t, "sample\tgroup\nS1\tGrpA\nS1\tGrpA\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, sheet.Members("GrpA"))
}

func TestParseQuotedFields(t *testing.T) {
	path := writeSheet(t, "sample\tgroup\n\"S1\"\t'GrpA'\n")

	sheet, err := Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, sheet.Members("GrpA"))
}

func TestParseEmptyFileIsAnError(t *testing.T) {
	path := writeSheet(t, "")
	_, err := Parse(context.Background(), path)
	assert.ErrorContains(t, err, "empty")
}

func TestParseHeaderOnlyFileIsAnError(t *testing.T) {
	path := writeSheet(t, "sample\tgroup\n")
	_, err := Parse(context.Background(), path)
	assert.ErrorContains(t, err, "no usable")
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse(context.Background(), filepath.Join(t.TempDir(), "nope.tsv"))
	assert.Error(t, err)
}
