// Package refgenome holds the reference bundle table: per genome, the
// aligner index prefix and the chromosome-length file every mapping and
// contact-map step consumes. The table is built once at configuration load.
package refgenome

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vertgenlab/gonomics/chromInfo"
)

// Bundle points at the reference files for one genome.
type Bundle struct {
	// BWAIndex is the index prefix: the aligner expects its companion
	// files (.bwt, .amb, .ann, .pac, .sa) next to this path.
	BWAIndex string
	// ChromSizes is a two-column chromosome-length file.
	ChromSizes string
}

// bwtSuffix is the index companion file checked during validation; it is
// the largest of the set, so its presence is the best indicator that
// indexing completed.
const bwtSuffix = ".bwt"

// Validate checks that the bundle's files exist and that the chrom-sizes
// file parses to a usable chromosome set.
func (b Bundle) Validate() error {
	if b.BWAIndex == "" {
		return fmt.Errorf("reference bundle is missing the aligner index path")
	}
	if _, err := os.Stat(b.BWAIndex + bwtSuffix); err != nil {
		return fmt.Errorf("aligner index %s%s: %w", b.BWAIndex, bwtSuffix, err)
	}
	if _, err := os.Stat(b.ChromSizes); err != nil {
		return fmt.Errorf("chrom-sizes file %s: %w", b.ChromSizes, err)
	}
	if err := scanChromSizes(b.ChromSizes); err != nil {
		return err
	}

	chroms := chromInfo.ReadToSlice(b.ChromSizes)
	if len(chroms) == 0 {
		return fmt.Errorf("chrom-sizes file %s lists no chromosomes", b.ChromSizes)
	}
	seen := make(map[string]struct{}, len(chroms))
	for _, c := range chroms {
		if c.Name == "" {
			return fmt.Errorf("chrom-sizes file %s contains an unnamed chromosome", b.ChromSizes)
		}
		if c.Size <= 0 {
			return fmt.Errorf("chrom-sizes file %s: chromosome %s has non-positive length %d", b.ChromSizes, c.Name, c.Size)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("chrom-sizes file %s lists chromosome %s twice", b.ChromSizes, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// scanChromSizes checks the file's format before it is handed to the
// parser, which aborts the process on malformed lines instead of returning
// an error. Every line must be name<TAB>length with an integer length.
func scanChromSizes(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("chrom-sizes file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 2 || strings.TrimSpace(fields[0]) == "" {
			return fmt.Errorf("chrom-sizes file %s line %d: want name<TAB>length, got %q", path, lineno, scanner.Text())
		}
		if _, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64); err != nil {
			return fmt.Errorf("chrom-sizes file %s line %d: length %q is not an integer", path, lineno, fields[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chrom-sizes file %s: %w", path, err)
	}
	return nil
}

// Table maps genome identifiers to reference bundles.
type Table struct {
	bundles map[string]Bundle
}

// NewTable builds the lookup table from configuration.
func NewTable(bundles map[string]Bundle) *Table {
	copied := make(map[string]Bundle, len(bundles))
	for genome, b := range bundles {
		copied[genome] = b
	}
	return &Table{bundles: copied}
}

// Lookup returns the bundle for a genome. A missing genome is a
// configuration error: there is no meaningful default reference.
func (t *Table) Lookup(genome string) (Bundle, error) {
	b, ok := t.bundles[genome]
	if !ok {
		return Bundle{}, fmt.Errorf("no reference bundle configured for genome %q", genome)
	}
	return b, nil
}

// Genomes returns the configured genome identifiers.
func (t *Table) Genomes() []string {
	names := make([]string, 0, len(t.bundles))
	for name := range t.bundles {
		names = append(names, name)
	}
	return names
}
