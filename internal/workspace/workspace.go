// Package workspace manages scoped temporary directories. Every step
// invocation gets a fresh directory whose lifetime is bound to that single
// invocation; release is guaranteed on success, failure and cancellation so
// repeated batch runs cannot leak scratch space.
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/seqwright/hichipgo/internal/ctxlog"
)

// Scoped is a temporary directory owned by one step invocation.
type Scoped struct {
	dir string

	releaseOnce sync.Once
	releaseErr  error
}

// Acquire creates a fresh scoped directory under root, named after the
// step with a random suffix so concurrent invocations of the same step
// never collide. Creation failure is fatal to the step: there is nowhere
// safe to run the tool.
func Acquire(root, step string) (*Scoped, error) {
	dir := filepath.Join(root, fmt.Sprintf("hichip-%s-%s", step, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scoped workspace for step %q: %w", step, err)
	}
	return &Scoped{dir: dir}, nil
}

// Dir returns the workspace directory path.
func (s *Scoped) Dir() string { return s.dir }

// Path joins name onto the workspace directory.
func (s *Scoped) Path(name string) string { return filepath.Join(s.dir, name) }

// Keep moves a file out of the workspace to its final destination. The
// file is staged next to the destination and renamed into place so a
// consumer never observes a partially written artifact at dst.
func (s *Scoped) Keep(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory for %s: %w", dst, err)
	}

	// Same-filesystem fast path.
	if os.Rename(src, dst) == nil {
		return nil
	}

	staging := dst + ".partial"
	if err := copyFile(src, staging); err != nil {
		os.Remove(staging)
		return fmt.Errorf("staging %s: %w", dst, err)
	}
	if err := os.Rename(staging, dst); err != nil {
		os.Remove(staging)
		return fmt.Errorf("publishing %s: %w", dst, err)
	}
	return nil
}

// Release removes the workspace directory and everything in it. It is
// idempotent and safe to defer alongside an explicit call.
func (s *Scoped) Release(ctx context.Context) error {
	s.releaseOnce.Do(func() {
		if err := os.RemoveAll(s.dir); err != nil {
			// Leftover scratch space is an operational nuisance, not a
			// correctness failure; the step's artifacts are already out.
			ctxlog.FromContext(ctx).Warn("Failed to remove scoped workspace.", "dir", s.dir, "error", err)
			s.releaseErr = err
		}
	})
	return s.releaseErr
}

// copyFile copies src to dst, syncing before close so the subsequent
// rename publishes complete bytes.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
