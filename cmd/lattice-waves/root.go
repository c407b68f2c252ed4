package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-waves/internal/artifact"
	"github.com/kingrea/lattice-waves/internal/config"
	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/logging"
)

type rootOptions struct {
	projectDir string
	planPath   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "lattice-waves",
		Short:         "Schedule a task plan into parallel waves and delegate it",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", "", "project directory (defaults to the working directory)")
	root.PersistentFlags().StringVar(&opts.planPath, "plan", "", "plan document path (overrides plan.path)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newInitCmd(opts),
		newValidateCmd(opts),
		newWavesCmd(opts),
		newEstimateCmd(opts),
		newLinkCmd(opts),
		newSetStatusCmd(opts),
		newDelegateCmd(opts),
		newPlanCmd(opts),
		newStatusCmd(opts),
		newRunCmd(opts),
		newViewCmd(opts),
	)
	return root
}

// cliEnv bundles what most commands need once configuration is loaded.
type cliEnv struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    *artifact.Store
	resolver *delegation.Resolver
}

func (e *cliEnv) Close() {
	if e != nil && e.logger != nil {
		_ = e.logger.Close()
	}
}

func (o *rootOptions) project() (string, error) {
	dir := strings.TrimSpace(o.projectDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

func (o *rootOptions) loadEnv() (*cliEnv, error) {
	projectDir, err := o.project()
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		cfg.Settings.Log.Level = level
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	resolver, err := delegation.NewResolverWithOverrides(cfg.DelegationOverrides(), delegation.WithWarner(logger))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	format, _ := artifact.ParseFormat(cfg.Settings.Plan.Format)
	planPath := cfg.PlanPath()
	if o.planPath != "" {
		planPath, err = filepath.Abs(o.planPath)
		if err != nil {
			_ = logger.Close()
			return nil, err
		}
	}
	return &cliEnv{
		cfg:      cfg,
		logger:   logger,
		store:    artifact.NewStore(planPath, artifact.WithFormat(format)),
		resolver: resolver,
	}, nil
}

// parseOverrides turns repeated id=N flags into a wave override map.
func parseOverrides(values []string) (map[string]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(values))
	for _, value := range values {
		id, raw, ok := strings.Cut(value, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("expected id=wave, got %q", value)
		}
		wave, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("wave for %s: %w", id, err)
		}
		out[id] = wave
	}
	return out, nil
}
