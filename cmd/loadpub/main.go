package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loadpub/internal/config"
)

// set with -ldflags at build time
var (
	version   = "dev"
	buildTime = "unknown"
)

type options struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:           "loadpub",
		Short:         "Generate synthetic records and publish them to Kafka as fast as possible",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default "+config.DefaultPath+" when present)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(newRunCmd(&opts), newCountCmd(&opts))

	return root
}

// loadConfig reports failures on stderr since no logger exists yet.
func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		log.Printf("failed to load env files: %v", err)
		return nil, err
	}

	path, required := opts.configPath, true
	if path == "" {
		path, required = config.DefaultPath, false
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return nil, err
	}

	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", level, err)
		zapLevel = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

// startProfiling writes cpu.pprof into dir until the returned func is called,
// which also writes mem.pprof.
func startProfiling(dir string, logger *zap.Logger) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	cpuProfile, err := os.Create(filepath.Join(dir, "cpu.pprof"))
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		cpuProfile.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}

	return func() {
		pprof.StopCPUProfile()
		cpuProfile.Close()

		memProfile, err := os.Create(filepath.Join(dir, "mem.pprof"))
		if err != nil {
			logger.Error("could not create memory profile", zap.Error(err))
			return
		}
		defer memProfile.Close()

		runtime.GC()
		if err := pprof.WriteHeapProfile(memProfile); err != nil {
			logger.Error("could not write memory profile", zap.Error(err))
		}
	}, nil
}
