// Package capture writes diagnostic artifacts (visual snapshots) on failure
// paths. Captures are a side channel only: a capture that cannot be taken is
// dropped silently so it never masks the error being diagnosed.
package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultKeep bounds how many artifacts survive rotation.
const DefaultKeep = 20

// Shooter produces the raw snapshot bytes, typically a PNG screenshot of the
// current remote-surface page.
type Shooter func(ctx context.Context) ([]byte, error)

// Capturer stores timestamp-qualified snapshots under a single directory and
// rotates old ones out.
type Capturer struct {
	mu    sync.Mutex
	dir   string
	keep  int
	shoot Shooter
}

// New creates the capture directory and returns a capturer. keep <= 0 falls
// back to DefaultKeep.
func New(dir string, keep int, shoot Shooter) (*Capturer, error) {
	if dir == "" {
		return nil, fmt.Errorf("capture: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("capture: create dir: %w", err)
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Capturer{dir: dir, keep: keep, shoot: shoot}, nil
}

// Capture takes one snapshot keyed by the failing operation and returns the
// artifact path. Returns "" when the snapshot could not be taken; it never
// returns an error.
func (c *Capturer) Capture(ctx context.Context, operation string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shoot == nil {
		return ""
	}
	data, err := c.shoot(ctx)
	if err != nil || len(data) == 0 {
		log.Printf("capture for %s skipped: %v", operation, err)
		return ""
	}

	if err := c.rotate(); err != nil {
		log.Printf("capture rotation failed: %v", err)
	}

	// UnixMilli plus a uuid fragment keeps names collision-resistant across
	// rapid repeated failures of the same operation.
	name := fmt.Sprintf("%s_%d_%s.png", operation, time.Now().UnixMilli(), uuid.NewString()[:8])
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("capture write for %s failed: %v", operation, err)
		return ""
	}
	return path
}

// rotate keeps only the newest keep-1 artifacts to make room for the next.
func (c *Capturer) rotate() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	var artifacts []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Time.After(artifacts[j].Time)
	})

	if len(artifacts) >= c.keep {
		for i := c.keep - 1; i < len(artifacts); i++ {
			_ = os.Remove(filepath.Join(c.dir, artifacts[i].Name))
		}
	}
	return nil
}
