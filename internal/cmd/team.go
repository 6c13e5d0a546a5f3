package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omx/internal/config"
	"omx/internal/logging"
	"omx/internal/store"
	"omx/internal/team"
	"omx/internal/transport"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Create, observe, scale, and tear down worker teams",
}

func init() {
	rootCmd.AddCommand(teamCmd)
}

// projectDir resolves the directory whose .omx tree holds team state.
func projectDir() (string, error) {
	if dir := viper.GetString("dir"); dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// teamLogger writes to the team's debug.log when the state root exists or the
// command is about to create it. A missing team logs to stderr instead, so a
// status probe never materializes the team's directory as a side effect.
func teamLogger(layout store.Layout, cfg *config.Config, create bool) (*logging.Logger, error) {
	dir := layout.Root()
	if !create {
		if _, err := os.Stat(dir); err != nil {
			dir = ""
		}
	}
	return logging.NewLoggerWithRotation(dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// newManager builds a Manager over the named team's state root. The caller
// owns Close.
func newManager(ctx context.Context, teamName string, create bool) (*team.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	mgr, err := newManagerWith(ctx, teamName, create, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// newManagerWith is newManager with a caller-resolved config and an optional
// per-tick observer.
func newManagerWith(ctx context.Context, teamName string, create bool, cfg *config.Config, onTick func(*team.Snapshot)) (*team.Manager, error) {
	if !store.ValidName(teamName) {
		return nil, fmt.Errorf("invalid team name %q", teamName)
	}
	dir, err := projectDir()
	if err != nil {
		return nil, err
	}

	layout := store.NewLayout(dir, teamName)
	log, err := teamLogger(layout, cfg, create)
	if err != nil {
		return nil, err
	}

	tr, err := transport.Select(ctx, *cfg, teamName, log)
	if err != nil {
		return nil, err
	}

	return team.NewManager(team.Deps{
		Layout:    layout,
		Transport: tr,
		Config:    *cfg,
		WorkDir:   dir,
		OnTick:    onTick,
		Log:       log,
	})
}

// printJSON renders v as the machine-readable line below the human summary.
func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
