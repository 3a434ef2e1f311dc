package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/seqwright/hichipgo/internal/ctxlog"
)

// Preflight verifies that every external executable the steps invoke is
// resolvable on PATH before anything runs. Tool availability is an
// explicit precondition of the run, never something fetched on the fly.
func Preflight(ctx context.Context, steps []*Step) error {
	logger := ctxlog.FromContext(ctx)

	required := map[string]struct{}{"bash": {}}
	for _, step := range steps {
		for _, tool := range step.Tools {
			required[tool] = struct{}{}
		}
	}

	var missing []string
	for tool := range required {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required tools not found on PATH: %s", strings.Join(missing, ", "))
	}

	logger.Debug("Preflight passed, all wrapped tools resolved.", "count", len(required))
	return nil
}
