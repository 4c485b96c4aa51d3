package config

import "flag"

var (
	flagConfig      = flag.String("config", "", "Path to config file")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging")
	flagLeafCap     = flag.Int("leaf-cap", 0, "Maximum triangles per leaf (1-64)")
	flagEpsilon     = flag.Float64("epsilon", 0, "Plane classification tolerance")
	flagForceLeaves = flag.Bool("force-leaves", false, "Store unsplittable triangle sets as leaves")
	flagOut         = flag.String("out", "", "Output directory")
	flagExt         = flag.String("ext", "", "Output file extension")
	flagWorkers     = flag.Int("workers", 0, "Concurrent compiles")
	flagLogFile     = flag.String("log-file", "", "Write logs to this file as well")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLeafCap > 0 {
		cfg.Build.LeafCapacity = *flagLeafCap
	}
	if *flagEpsilon > 0 {
		cfg.Build.Epsilon = float32(*flagEpsilon)
	}
	if *flagForceLeaves {
		cfg.Build.ForceLeaves = true
	}
	if *flagOut != "" {
		cfg.Output.Dir = *flagOut
	}
	if *flagExt != "" {
		cfg.Output.Extension = *flagExt
	}
	if *flagWorkers > 0 {
		cfg.Output.Workers = *flagWorkers
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
