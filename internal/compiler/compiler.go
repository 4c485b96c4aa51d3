// Package compiler runs the mesh to level pipeline: parse, build, encode and
// write.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/levelc/internal/config"
	"github.com/Faultbox/levelc/pkg/formats"
	"github.com/Faultbox/levelc/pkg/kdtree"
	"github.com/Faultbox/levelc/pkg/mesh"
)

// ErrDuplicateOutput is returned by Jobs when two sources map to one level.
var ErrDuplicateOutput = errors.New("duplicate output path")

// Job is one source mesh and its destination level file.
type Job struct {
	Source string
	Output string
}

// Result describes a finished compile.
type Result struct {
	Source   string
	Output   string
	Stats    kdtree.Stats
	Warnings int
	Bytes    int
	Checksum uint64
	ID       uuid.UUID
	Duration time.Duration
}

// Compiler turns mesh files into level files. It holds no per-build state
// and is safe for concurrent use.
type Compiler struct {
	opts kdtree.Options
	log  *zap.Logger
}

// New creates a compiler. A nil logger discards all output.
func New(cfg config.BuildConfig, log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{opts: cfg.Options(), log: log}
}

// Build parses src and builds its tree without writing anything.
func (c *Compiler) Build(src string) (*mesh.Store, *kdtree.Tree, error) {
	log := c.log.With(zap.String("source", src))

	store, err := mesh.ParseFile(src)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", src, err)
	}
	for _, w := range store.Warnings {
		log.Warn("skipped input", zap.Int("line", w.Line), zap.String("directive", w.Directive), zap.Error(w.Err))
	}
	log.Debug("parsed",
		zap.Int("positions", len(store.Positions)),
		zap.Int("triangles", len(store.Triangles)),
		zap.Int("spawns", len(store.Spawns)),
	)

	tree, err := kdtree.Build(store, c.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s: %w", src, err)
	}
	log.Debug("built",
		zap.Int("nodes", tree.Stats.Nodes),
		zap.Int("leaves", tree.Stats.Leaves),
		zap.Int("forced_leaves", tree.Stats.ForcedLeaves),
		zap.Int("max_depth", tree.Stats.MaxDepth),
	)
	if tree.Stats.ForcedLeaves > 0 {
		log.Warn("oversized leaves forced", zap.Int("forced_leaves", tree.Stats.ForcedLeaves))
	}

	return store, tree, nil
}

// Compile compiles src into dst. The destination is only replaced when every
// stage succeeds.
func (c *Compiler) Compile(src, dst string) (*Result, error) {
	start := time.Now()

	store, tree, err := c.Build(src)
	if err != nil {
		return nil, err
	}

	data, err := formats.EncodeLevel(tree, store)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", src, err)
	}
	if err := formats.WriteFile(dst, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", dst, err)
	}

	res := &Result{
		Source:   src,
		Output:   dst,
		Stats:    tree.Stats,
		Warnings: len(store.Warnings),
		Bytes:    len(data),
		Checksum: formats.Checksum(data),
		ID:       formats.LevelID(data),
		Duration: time.Since(start),
	}

	c.log.Info("compiled",
		zap.String("source", src),
		zap.String("output", dst),
		zap.Int("triangles", len(store.Triangles)),
		zap.Int("nodes", res.Stats.Nodes),
		zap.Int("leaves", res.Stats.Leaves),
		zap.Int("bytes", res.Bytes),
		zap.String("checksum", fmt.Sprintf("%016x", res.Checksum)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// CompileAll compiles jobs with at most workers running at once. Results are
// returned in job order. The first failure cancels jobs that have not
// started yet.
func (c *Compiler) CompileAll(ctx context.Context, jobs []Job, workers int) ([]*Result, error) {
	results := make([]*Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := c.Compile(job.Source, job.Output)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// OutputPath derives the level path for src. An empty dir places the level
// next to its source.
func OutputPath(src, dir, ext string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ext
	if dir == "" {
		return filepath.Join(filepath.Dir(src), base)
	}
	return filepath.Join(dir, base)
}

// Jobs pairs every source with its output path. Two sources that would
// write the same level are rejected.
func Jobs(sources []string, out config.OutputConfig) ([]Job, error) {
	jobs := make([]Job, len(sources))
	seen := make(map[string]string, len(sources))
	for i, src := range sources {
		dst := OutputPath(src, out.Dir, out.Extension)
		key := filepath.Clean(dst)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %s and %s both write %s", ErrDuplicateOutput, prev, src, dst)
		}
		seen[key] = src
		jobs[i] = Job{Source: src, Output: dst}
	}
	return jobs, nil
}
