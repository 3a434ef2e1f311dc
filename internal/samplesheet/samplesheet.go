// Package samplesheet parses the tab-delimited groups file that pairs each
// sample with one or more analysis groups. The file has two required
// columns, sample and group; a header row is detected and otherwise the
// columns are assumed positional. A sample can belong to several groups by
// separating group names with commas or semicolons.
package samplesheet

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/seqwright/hichipgo/internal/ctxlog"
)

// Sheet is the parsed group membership table. Group and member order
// follow first appearance in the file, so downstream steps that enumerate
// members see a stable order.
type Sheet struct {
	order  []string
	groups map[string][]string
}

// Groups returns group identifiers in file order.
func (s *Sheet) Groups() []string { return s.order }

// Members returns the samples of a group in file order.
func (s *Sheet) Members(group string) []string { return s.groups[group] }

var groupSeparator = regexp.MustCompile(`[;,]`)

// clean strips surrounding quote characters from a field.
func clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// Parse reads a groups TSV file. An empty file is a configuration error; a
// missing header demotes the file to positional columns with a warning,
// matching how operators commonly hand-write these sheets.
func Parse(ctx context.Context, path string) (*Sheet, error) {
	logger := ctxlog.FromContext(ctx).With("samplesheet", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening samplesheet: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading samplesheet %s: %w", path, err)
		}
		return nil, fmt.Errorf("samplesheet %s is empty: add sample and group columns", path)
	}

	header := strings.Split(scanner.Text(), "\t")
	sampleIdx, groupIdx := -1, -1
	for i, col := range header {
		switch clean(strings.ToLower(col)) {
		case "sample":
			sampleIdx = i
		case "group":
			groupIdx = i
		}
	}
	hasHeader := sampleIdx >= 0 && groupIdx >= 0

	sheet := &Sheet{groups: make(map[string][]string)}
	lineno := 1
	if !hasHeader {
		// Assume 1=sample, 2=group and treat the first line as data.
		logger.Warn("Samplesheet is missing the Sample/Group header, assuming positional columns.",
			"sample_column", 1, "group_column", 2)
		sampleIdx, groupIdx = 0, 1
		sheet.addLine(ctx, header, sampleIdx, groupIdx, lineno)
	}

	for scanner.Scan() {
		lineno++
		fields := strings.Split(scanner.Text(), "\t")
		sheet.addLine(ctx, fields, sampleIdx, groupIdx, lineno)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading samplesheet %s: %w", path, err)
	}

	if len(sheet.order) == 0 {
		return nil, fmt.Errorf("samplesheet %s contains no usable sample/group rows", path)
	}
	return sheet, nil
}

// addLine folds one data row into the sheet, skipping rows that cannot
// provide both fields.
func (s *Sheet) addLine(ctx context.Context, fields []string, sampleIdx, groupIdx, lineno int) {
	logger := ctxlog.FromContext(ctx)

	if sampleIdx >= len(fields) || groupIdx >= len(fields) {
		if anyNonEmpty(fields) {
			logger.Warn("Sample or Group column is missing, skipping line.", "line", lineno, "fields", fields)
		}
		return
	}

	sample := clean(fields[sampleIdx])
	groupField := strings.TrimSpace(fields[groupIdx])
	if sample == "" || groupField == "" {
		if anyNonEmpty(fields) {
			logger.Warn("Sample or Group information is empty, skipping line.", "line", lineno, "fields", fields)
		}
		return
	}

	for _, raw := range groupSeparator.Split(groupField, -1) {
		group := clean(raw)
		if group == "" {
			continue
		}
		if _, seen := s.groups[group]; !seen {
			s.order = append(s.order, group)
		}
		if !contains(s.groups[group], sample) {
			s.groups[group] = append(s.groups[group], sample)
		}
	}
}

func anyNonEmpty(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
