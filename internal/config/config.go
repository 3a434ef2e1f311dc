// Package config loads the HCL pipeline definition: samples, groups,
// working directories, genome selection, the reference bundle table and the
// per-step resource table. The result is an immutable Pipeline model built
// once at startup and passed explicitly to every component.
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/seqwright/hichipgo/internal/ctxlog"
	"github.com/seqwright/hichipgo/internal/refgenome"
	"github.com/seqwright/hichipgo/internal/resource"
	"github.com/seqwright/hichipgo/internal/samplesheet"
)

// Sample is one sequenced library with its paired-end read files.
type Sample struct {
	ID      string
	FastqR1 string
	FastqR2 string
}

// Group aggregates samples whose deduplicated pairs are merged into one
// group-level artifact. Members keep configuration order.
type Group struct {
	ID      string
	Members []string
}

// Pipeline is the validated, immutable configuration for one run.
type Pipeline struct {
	Workdir string
	Tmpdir  string
	Genome  string
	Peaks   string

	Samples []Sample
	Groups  []Group

	References *refgenome.Table
	Resources  *resource.Table

	// Reference is the bundle resolved for Genome.
	Reference refgenome.Bundle
}

// Identifiers appear verbatim in templated paths; restricting them keeps
// path templating injective and shell-safe.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// --- HCL file model ---

type fileModel struct {
	Workdir string `hcl:"workdir"`
	Tmpdir  string `hcl:"tmpdir"`
	Genome  string `hcl:"genome"`
	Peaks   string `hcl:"peaks,optional"`

	Samples    []sampleBlock    `hcl:"sample,block"`
	Groups     []groupBlock     `hcl:"group,block"`
	References []referenceBlock `hcl:"reference,block"`
	Resources  []resourcesBlock `hcl:"resources,block"`
}

type sampleBlock struct {
	ID      string `hcl:"id,label"`
	FastqR1 string `hcl:"fastq_r1"`
	FastqR2 string `hcl:"fastq_r2"`
}

type groupBlock struct {
	ID      string   `hcl:"id,label"`
	Samples []string `hcl:"samples"`
}

type referenceBlock struct {
	Genome     string `hcl:"genome,label"`
	BWAIndex   string `hcl:"bwa_index"`
	ChromSizes string `hcl:"chrom_sizes"`
}

type resourcesBlock struct {
	Step     string `hcl:"step,label"`
	Threads  int    `hcl:"threads"`
	Memory   string `hcl:"memory"`
	Walltime string `hcl:"walltime"`
}

// localAttrs are top-level attributes exposed back into the HCL eval
// context so later expressions can reference them, e.g.
// peaks = "${workdir}/peaks.bed".
var localAttrs = []hcl.AttributeSchema{
	{Name: "workdir"},
	{Name: "tmpdir"},
	{Name: "genome"},
}

// Load parses and validates the pipeline definition at path.
func Load(ctx context.Context, path string) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)

	if info, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pipeline config %s: %w", path, err)
	} else if info.IsDir() {
		return nil, fmt.Errorf("pipeline config %s is a directory, want a single .hcl file", path)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing pipeline config: %w", diags)
	}

	evalCtx, err := localEvalContext(file.Body)
	if err != nil {
		return nil, err
	}

	var model fileModel
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &model); diags.HasErrors() {
		return nil, fmt.Errorf("decoding pipeline config: %w", diags)
	}
	logger.Debug("Pipeline config decoded.", "path", path,
		"samples", len(model.Samples), "groups", len(model.Groups))

	return buildPipeline(&model)
}

// localEvalContext pre-reads the top-level locals so the rest of the file
// can interpolate them.
func localEvalContext(body hcl.Body) (*hcl.EvalContext, error) {
	content, _, diags := body.PartialContent(&hcl.BodySchema{Attributes: localAttrs})
	if diags.HasErrors() {
		return nil, fmt.Errorf("reading pipeline locals: %w", diags)
	}
	vars := make(map[string]cty.Value, len(content.Attributes))
	for name, attr := range content.Attributes {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating %s: %w", name, diags)
		}
		vars[name] = v
	}
	return &hcl.EvalContext{Variables: vars}, nil
}

// buildPipeline validates the raw file model and assembles the immutable
// Pipeline. All configuration errors surface here, before any step runs.
func buildPipeline(model *fileModel) (*Pipeline, error) {
	if model.Workdir == "" {
		return nil, fmt.Errorf("workdir must be set")
	}
	if model.Tmpdir == "" {
		return nil, fmt.Errorf("tmpdir must be set")
	}
	if len(model.Samples) == 0 {
		return nil, fmt.Errorf("at least one sample block is required")
	}

	p := &Pipeline{
		Workdir: model.Workdir,
		Tmpdir:  model.Tmpdir,
		Genome:  model.Genome,
		Peaks:   model.Peaks,
	}

	sampleIDs := make(map[string]struct{}, len(model.Samples))
	for _, s := range model.Samples {
		if err := checkIdentifier("sample", s.ID); err != nil {
			return nil, err
		}
		if _, dup := sampleIDs[s.ID]; dup {
			return nil, fmt.Errorf("sample %q is declared twice", s.ID)
		}
		if s.FastqR1 == "" || s.FastqR2 == "" {
			return nil, fmt.Errorf("sample %q must declare both fastq_r1 and fastq_r2", s.ID)
		}
		sampleIDs[s.ID] = struct{}{}
		p.Samples = append(p.Samples, Sample{ID: s.ID, FastqR1: s.FastqR1, FastqR2: s.FastqR2})
	}

	groupIDs := make(map[string]struct{}, len(model.Groups))
	for _, g := range model.Groups {
		if err := checkIdentifier("group", g.ID); err != nil {
			return nil, err
		}
		if _, dup := groupIDs[g.ID]; dup {
			return nil, fmt.Errorf("group %q is declared twice", g.ID)
		}
		if _, clash := sampleIDs[g.ID]; clash {
			return nil, fmt.Errorf("group %q collides with a sample of the same name", g.ID)
		}
		if len(g.Samples) == 0 {
			return nil, fmt.Errorf("group %q has no samples", g.ID)
		}
		for _, member := range g.Samples {
			if _, ok := sampleIDs[member]; !ok {
				return nil, fmt.Errorf("group %q references unknown sample %q", g.ID, member)
			}
		}
		groupIDs[g.ID] = struct{}{}
		p.Groups = append(p.Groups, Group{ID: g.ID, Members: append([]string(nil), g.Samples...)})
	}

	bundles := make(map[string]refgenome.Bundle, len(model.References))
	for _, r := range model.References {
		if _, dup := bundles[r.Genome]; dup {
			return nil, fmt.Errorf("reference bundle for genome %q is declared twice", r.Genome)
		}
		bundles[r.Genome] = refgenome.Bundle{BWAIndex: r.BWAIndex, ChromSizes: r.ChromSizes}
	}
	p.References = refgenome.NewTable(bundles)

	bundle, err := p.References.Lookup(model.Genome)
	if err != nil {
		return nil, err
	}
	p.Reference = bundle

	specs := make(map[string]resource.Spec, len(model.Resources))
	for _, r := range model.Resources {
		if _, dup := specs[r.Step]; dup {
			return nil, fmt.Errorf("resources for step %q are declared twice", r.Step)
		}
		specs[r.Step] = resource.Spec{Threads: r.Threads, Memory: r.Memory, Walltime: r.Walltime}
	}
	table, err := resource.NewTable(specs)
	if err != nil {
		return nil, err
	}
	p.Resources = table

	return p, nil
}

// ApplySheet merges group membership from a samplesheet into the pipeline.
// Sheet groups extend or replace same-named HCL groups; members must be
// declared samples.
func (p *Pipeline) ApplySheet(sheet *samplesheet.Sheet) error {
	known := make(map[string]struct{}, len(p.Samples))
	for _, s := range p.Samples {
		known[s.ID] = struct{}{}
	}

	byID := make(map[string]int, len(p.Groups))
	for i, g := range p.Groups {
		byID[g.ID] = i
	}

	for _, id := range sheet.Groups() {
		if err := checkIdentifier("group", id); err != nil {
			return err
		}
		members := sheet.Members(id)
		for _, member := range members {
			if _, ok := known[member]; !ok {
				return fmt.Errorf("samplesheet group %q references unknown sample %q", id, member)
			}
		}
		if i, ok := byID[id]; ok {
			p.Groups[i].Members = append([]string(nil), members...)
			continue
		}
		if _, clash := known[id]; clash {
			return fmt.Errorf("samplesheet group %q collides with a sample of the same name", id)
		}
		byID[id] = len(p.Groups)
		p.Groups = append(p.Groups, Group{ID: id, Members: append([]string(nil), members...)})
	}
	return nil
}

// SampleByID returns the sample with the given identifier.
func (p *Pipeline) SampleByID(id string) (Sample, bool) {
	for _, s := range p.Samples {
		if s.ID == id {
			return s, true
		}
	}
	return Sample{}, false
}

func checkIdentifier(kind, id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%s identifier %q is invalid: only letters, digits, '.', '_' and '-' are allowed", kind, id)
	}
	return nil
}
