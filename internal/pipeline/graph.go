package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/seqwright/hichipgo/internal/config"
	"github.com/seqwright/hichipgo/internal/ctxlog"
)

// State is a node's position in the per-step lifecycle.
type State int32

// Node states. Failed is terminal and propagates to dependents.
const (
	Pending State = iota
	Running
	Succeeded
	Failed
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Node is one step invocation in the resolved DAG.
type Node struct {
	Step *Step

	// Deps and Dependents are fixed at build time; only state and
	// depCount mutate during a run.
	Deps       []*Node
	Dependents []*Node

	depCount atomic.Int32
	state    atomic.Int32
	skipOnce sync.Once

	// Err is set once, before the node transitions to Failed.
	Err error
}

// State returns the node's current lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

// Graph is the explicit DAG of step invocations, resolved once at startup
// from the steps' declared inputs and outputs.
type Graph struct {
	// Nodes keeps definition order so scheduling and error reports are
	// deterministic.
	Nodes []*Node

	producers map[string]*Node
}

// Producer returns the node producing the given artifact path, if any.
func (g *Graph) Producer(path string) (*Node, bool) {
	n, ok := g.producers[path]
	return n, ok
}

// BuildGraph resolves the step list into a DAG. Every declared output must
// have exactly one producer; every declared input must either be produced
// by another step or be one of the configuration's external source files.
func BuildGraph(ctx context.Context, cfg *config.Pipeline, steps []*Step) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)

	g := &Graph{producers: make(map[string]*Node)}
	byKey := make(map[string]*Node, len(steps))
	for _, step := range steps {
		if _, dup := byKey[step.Key()]; dup {
			return nil, fmt.Errorf("step %s is defined twice", step.Key())
		}
		node := &Node{Step: step}
		byKey[step.Key()] = node
		g.Nodes = append(g.Nodes, node)

		for _, out := range step.Outputs {
			if other, dup := g.producers[out]; dup {
				return nil, fmt.Errorf("output %s is produced by both %s and %s", out, other.Step.Key(), step.Key())
			}
			g.producers[out] = node
		}
	}

	sources := externalSources(cfg)
	for _, node := range g.Nodes {
		seen := make(map[*Node]struct{})
		for _, in := range node.Step.Inputs {
			producer, ok := g.producers[in]
			if !ok {
				if _, external := sources[in]; !external {
					return nil, fmt.Errorf("step %s consumes %s, which no step produces and no configuration input provides", node.Step.Key(), in)
				}
				continue
			}
			if producer == node {
				return nil, fmt.Errorf("step %s consumes its own output %s", node.Step.Key(), in)
			}
			if _, dup := seen[producer]; dup {
				continue
			}
			seen[producer] = struct{}{}
			node.Deps = append(node.Deps, producer)
			producer.Dependents = append(producer.Dependents, node)
		}
		node.depCount.Store(int32(len(node.Deps)))
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	logger.Debug("Dependency graph resolved.", "nodes", len(g.Nodes), "artifacts", len(g.producers))
	return g, nil
}

// externalSources is the set of files the configuration supplies from
// outside the DAG: read files, reference files and the peak annotation.
func externalSources(cfg *config.Pipeline) map[string]struct{} {
	sources := make(map[string]struct{})
	for _, s := range cfg.Samples {
		sources[s.FastqR1] = struct{}{}
		sources[s.FastqR2] = struct{}{}
	}
	sources[cfg.Reference.ChromSizes] = struct{}{}
	sources[cfg.Reference.BWAIndex+".bwt"] = struct{}{}
	if cfg.Peaks != "" {
		sources[cfg.Peaks] = struct{}{}
	}
	return sources
}

// detectCycles runs a depth-first search with the classic three node sets:
// permanently cleared, on the current recursion stack, and unvisited.
func (g *Graph) detectCycles() error {
	permanent := make(map[*Node]bool)
	temporary := make(map[*Node]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n] {
			return nil
		}
		if temporary[n] {
			return fmt.Errorf("dependency cycle detected involving step %s", n.Step.Key())
		}
		temporary[n] = true
		for _, dependent := range n.Dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n)
		permanent[n] = true
		return nil
	}

	for _, n := range g.Nodes {
		if !permanent[n] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
