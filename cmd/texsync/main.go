package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/texsync/texsync/internal/engine"
	"github.com/texsync/texsync/internal/gitx"
	"github.com/texsync/texsync/internal/sharelatex"
	"github.com/texsync/texsync/internal/vault"
	"github.com/texsync/texsync/internal/version"
)

var (
	home, _          = os.UserHomeDir()
	defaultConfigDir = filepath.Join(home, ".texsync")
	configFileName   = "config"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

// exitConflicts is the exit code for a pull that succeeded but left
// conflicts to resolve. Distinct from failure so scripts can tell the two
// apart.
const exitConflicts = 3

var rootCmd = &cobra.Command{
	Use:           "texsync",
	Short:         "Keep a local git mirror of a collaborative LaTeX project",
	Version:       version.Detailed(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd)
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("repo", "C", ".", "Repository directory to operate on")
	rootCmd.PersistentFlags().String("config", filepath.Join(defaultConfigDir, "config.json"), "Config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red("error"), err)
		if hint := recoveryHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "%s\n", cyan(hint))
		}
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(defaultConfigDir)
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("TEXSYNC")
	viper.AutomaticEnv()
	return nil
}

// newEngine builds the engine for the repository named by the --repo flag,
// with the shared vault and session cache under ~/.texsync.
func newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	root, _ := cmd.Flags().GetString("repo")
	return engineAt(root)
}

func engineAt(root string) (*engine.Engine, error) {
	vlt := vault.Open(filepath.Join(defaultConfigDir, "credentials.json"))
	opts := []engine.Option{
		engine.WithSessionDir(filepath.Join(defaultConfigDir, "sessions")),
	}
	if workers := viper.GetInt("download_workers"); workers > 0 {
		opts = append(opts, engine.WithDial(func(serverURL string) engine.RemoteClient {
			return sharelatex.New(serverURL, sharelatex.WithDownloadWorkers(workers))
		}))
	}
	return engine.New(root, vlt, opts...)
}

// recoveryHint names the action that gets the user out of a known failure.
func recoveryHint(err error) string {
	switch {
	case errors.Is(err, gitx.ErrDirtyWorkingTree):
		return "commit or stash your changes, then retry"
	case errors.Is(err, engine.ErrDivergedState):
		return "run 'texsync pull', resolve the conflicts, commit, then push"
	case errors.Is(err, engine.ErrRemoteDiverged):
		return "run 'texsync pull' first, then retry the push"
	case errors.Is(err, engine.ErrRepositoryBusy):
		return "another texsync is running against this repository, retry later"
	case errors.Is(err, engine.ErrNotInitialized):
		return "run 'texsync clone <project_url> <path>' or 'texsync new' first"
	case errors.Is(err, sharelatex.ErrAuthentication):
		return "check your credentials with 'texsync login <server_url>'"
	case errors.Is(err, sharelatex.ErrNetwork):
		return "the server is unreachable, retry later"
	}
	return ""
}
