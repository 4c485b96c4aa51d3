// levelc compiles triangulated level meshes into KD-tree level files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/levelc/internal/compiler"
	"github.com/Faultbox/levelc/internal/config"
	"github.com/Faultbox/levelc/internal/logger"
	"github.com/Faultbox/levelc/pkg/formats"
	"github.com/Faultbox/levelc/pkg/kdtree"
	"github.com/Faultbox/levelc/pkg/mesh"
)

func main() {
	flag.Usage = printUsage
	config.ParseFlags()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "compile", "c":
		cmdCompile(args)
	case "stats":
		cmdStats(args)
	case "info":
		cmdInfo(args)
	case "verify":
		cmdVerify(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`levelc - level geometry compiler

Usage:
  levelc [flags] <command> [args]

Commands:
  compile <mesh.obj|dir>...   Compile meshes into level files
  stats <mesh.obj>            Build the tree and print statistics
  info <level.kdb>            Show header, lumps and identity
  verify <level.kdb>...       Check level files for corruption
  config init [-force] [path] Write the effective config to a file
  config show                 Print the effective config

Flags:
  -config <path>      Config file (default ./levelc.yaml)
  -debug              Enable debug logging
  -leaf-cap <n>       Maximum triangles per leaf (1-64)
  -epsilon <f>        Plane classification tolerance
  -force-leaves       Store unsplittable triangle sets as leaves
  -out <dir>          Output directory (default: next to source)
  -ext <ext>          Output extension (default .kdb)
  -workers <n>        Concurrent compiles
  -log-file <path>    Also write JSON logs to this file

Examples:
  levelc compile maps/arena.obj
  levelc -out build -workers 4 compile maps/
  levelc -leaf-cap 16 stats maps/arena.obj
  levelc info build/arena.kdb
  levelc -leaf-cap 16 config init levelc.yaml`)
}

// setup loads the config and starts logging. Commands that only read level
// files do not need it.
func setup() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	source := cfg.Source
	if source == "" {
		source = "defaults"
	}
	logger.Debug("config loaded",
		zap.String("source", source),
		zap.Int("leaf_capacity", cfg.Build.LeafCapacity),
		zap.Float32("epsilon", cfg.Build.Epsilon),
		zap.Int("workers", cfg.Output.Workers))
	return cfg
}

// exit flushes the log before leaving.
func exit(code int) {
	logger.Sync()
	os.Exit(code)
}

func cmdCompile(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelc compile <mesh.obj|dir>...")
		os.Exit(1)
	}

	cfg := setup()

	sources, err := expandSources(args)
	if err != nil {
		logger.Error("reading sources", zap.Error(err))
		exit(1)
	}
	if len(sources) == 0 {
		logger.Error("no mesh files found", zap.Strings("args", args))
		exit(1)
	}

	jobs, err := compiler.Jobs(sources, cfg.Output)
	if err != nil {
		logger.Error("planning outputs", zap.Error(err))
		exit(1)
	}

	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			logger.Error("creating output directory", zap.String("dir", cfg.Output.Dir), zap.Error(err))
			exit(1)
		}
	}

	start := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := compiler.New(cfg.Build, logger.Named("compiler"))
	results, err := c.CompileAll(ctx, jobs, cfg.Output.Workers)
	stop()

	var total uint64
	for _, res := range results {
		if res == nil {
			continue
		}
		total += uint64(res.Bytes)
		fmt.Printf("%s -> %s (%s, %d leaves, %016x)\n",
			res.Source, res.Output, humanize.Bytes(uint64(res.Bytes)), res.Stats.Leaves, res.Checksum)
	}

	if err != nil {
		logger.Error("compile failed", zap.Error(err))
		printSoupHint(err)
		exit(1)
	}

	logger.Sugar.Infof("compiled %d of %d levels in %s", len(results), len(jobs), time.Since(start).Round(time.Millisecond))
	if len(results) > 1 {
		fmt.Printf("\n%d levels, %s total\n", len(results), humanize.Bytes(total))
	}
	exit(0)
}

// expandSources replaces directories with the .obj files they contain.
func expandSources(args []string) ([]string, error) {
	var sources []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			sources = append(sources, arg)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(arg, "*.obj"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		sources = append(sources, matches...)
	}
	return sources, nil
}

func cmdStats(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelc stats <mesh.obj>")
		os.Exit(1)
	}

	cfg := setup()
	c := compiler.New(cfg.Build, logger.Named("compiler"))

	store, tree, err := c.Build(args[0])
	if err != nil {
		logger.Error("build failed", zap.String("source", args[0]), zap.Error(err))
		printSoupHint(err)
		exit(1)
	}

	s := tree.Stats
	fmt.Printf("Mesh:       %s\n", args[0])
	fmt.Printf("Positions:  %s\n", humanize.Comma(int64(len(store.Positions))))
	fmt.Printf("Triangles:  %s\n", humanize.Comma(int64(len(store.Triangles))))
	fmt.Printf("Materials:  %d\n", len(store.Materials()))
	fmt.Printf("Spawns:     %d\n", len(store.Spawns))
	fmt.Printf("Warnings:   %d\n", len(store.Warnings))
	fmt.Println()
	fmt.Printf("Leaf cap:   %d\n", tree.Options.LeafCapacity)
	fmt.Printf("Epsilon:    %g\n", tree.Options.Epsilon)
	fmt.Printf("Nodes:      %d\n", s.Nodes)
	fmt.Printf("Leaves:     %d (%d forced)\n", s.Leaves, s.ForcedLeaves)
	fmt.Printf("Max depth:  %d\n", s.MaxDepth)
	fmt.Printf("Max leaf:   %d triangles\n", s.MaxLeafTriangles)
	fmt.Printf("Splits:     %d triangles duplicated\n", s.SplitTriangles)

	for _, w := range store.Warnings {
		logger.Warn("mesh", zap.Error(w))
	}
	if s.MaxLeafTriangles > formats.MaxLeafTriangles {
		logger.Sugar.Warnf("largest leaf holds %d triangles, the level format allows %d",
			s.MaxLeafTriangles, formats.MaxLeafTriangles)
	}
	exit(0)
}

func printSoupHint(err error) {
	var soup *kdtree.SoupError
	if errors.As(err, &soup) {
		fmt.Fprintf(os.Stderr, "  %d triangles could not be separated at depth %d (%s axis).\n", soup.Triangles, soup.Depth, soup.Axis)
		fmt.Fprintln(os.Stderr, "  Try a larger -leaf-cap, or -force-leaves to inspect the tree.")
	}
	var lineErr *mesh.LineError
	if errors.As(err, &lineErr) {
		fmt.Fprintf(os.Stderr, "  at line %d\n", lineErr.Line)
	}
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelc info <level.kdb>")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, err := formats.ParseLevel(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Level:    %s\n", args[0])
	fmt.Printf("Version:  %d\n", level.Header.Version)
	fmt.Printf("Size:     %s\n", humanize.Bytes(uint64(level.Size())))
	fmt.Printf("Checksum: %016x\n", formats.Checksum(data))
	fmt.Printf("ID:       %s\n", formats.LevelID(data))
	fmt.Println()
	fmt.Println("Lumps:")

	counts := []int{
		len(level.Planes),
		len(level.Textures),
		len(level.Nodes),
		len(level.Leaves),
		len(level.Triangles),
		len(level.Vertices),
		len(level.Spawns),
	}
	for lump := formats.LumpPlanes; lump < formats.LumpCount; lump++ {
		entry := level.Directory[lump]
		fmt.Printf("  %-10s %8d records  %10s  @%d\n", lump, counts[lump], humanize.Bytes(uint64(entry.Length)), entry.Offset)
	}

	if len(level.Textures) > 0 {
		fmt.Println()
		fmt.Println("Textures:")
		for i := range level.Textures {
			fmt.Printf("  %3d %s\n", i, level.TextureName(i))
		}
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	quiet := fs.Bool("q", false, "Only report failures")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelc verify [-q] <level.kdb>...")
		os.Exit(1)
	}

	failed := 0
	for _, path := range fs.Args() {
		level, err := formats.ParseLevelFile(path)
		if err == nil {
			err = level.Validate()
		}
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		if !*quiet {
			fmt.Printf("ok   %s\n", path)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d levels failed\n", failed, fs.NArg())
		os.Exit(1)
	}
}

func cmdConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: levelc config <init|show>")
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		cfg := setup()
		path, err := initConfig(cfg, args[1:])
		if err != nil {
			logger.Error("writing config", zap.Error(err))
			exit(1)
		}
		logger.Info("config written", zap.String("path", path))
		fmt.Printf("Wrote %s\n", path)
		exit(0)
	case "show":
		cfg := setup()
		data, err := yaml.Marshal(cfg)
		if err != nil {
			logger.Error("encoding config", zap.Error(err))
			exit(1)
		}
		if cfg.Source != "" {
			fmt.Printf("# loaded from %s\n", cfg.Source)
		}
		fmt.Print(string(data))
		exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", args[0])
		os.Exit(1)
	}
}

// initConfig writes cfg to the path in args, or to the user config when
// none is given. It refuses to replace a file unless -force is set.
func initConfig(cfg *config.Config, args []string) (string, error) {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() > 1 {
		return "", fmt.Errorf("expected at most one path, got %d", fs.NArg())
	}
	return cfg.WriteNew(fs.Arg(0), *force)
}
