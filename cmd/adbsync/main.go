package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/adbsync/internal/adb"
	"github.com/schaermu/adbsync/internal/config"
	"github.com/schaermu/adbsync/internal/sync"
	"github.com/schaermu/adbsync/internal/tree"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	serial    string
	adbBinary string

	// Sync flags
	dryRun      bool
	setTimes    bool
	deleteIfDNE bool
	ignoreDirs  []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adbsync",
	Short: "Synchronize directory trees with an Android device over adb",
	Long: `adbsync makes a destination directory tree match a source tree, where one
side lives on an Android device reached through adb and the other on the
local filesystem.

Files are copied when they are missing on the destination, differ in size or
are older than the source. Orphans on the destination are only removed when
asked for. Every run lists both trees afresh; nothing is stored in between.`,
	SilenceUsage: true,
}

var pullCmd = &cobra.Command{
	Use:   "pull SOURCE DEST",
	Short: "Sync a directory on the device into a local directory",
	Long: `Pull mirrors SOURCE on the device into DEST/<basename of SOURCE> on the
local filesystem.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args, sync.DirectionPull)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push SOURCE DEST",
	Short: "Sync a local directory onto the device",
	Long: `Push mirrors the local SOURCE into DEST/<basename of SOURCE> on the device.
With --set-times the device copy is stamped with the local modification time
after each transfer.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args, sync.DirectionPush)
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror SOURCE DEST",
	Short: "Sync two local directories",
	Long: `Mirror applies the same rules as pull and push between two local
directories. No device is needed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args, sync.DirectionMirror)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached devices",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adbsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/adbsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&serial, "serial", "s", "", "use the device with this serial")
	rootCmd.PersistentFlags().StringVar(&adbBinary, "adb", "adb", "path to the adb binary")

	// Sync command flags
	for _, cmd := range []*cobra.Command{pullCmd, pushCmd, mirrorCmd} {
		cmd.Flags().BoolVarP(&setTimes, "set-times", "t", false, "copy the source modification time to the destination")
		cmd.Flags().BoolVarP(&deleteIfDNE, "delete-if-dne", "d", false, "delete destination files and directories missing on the source")
		cmd.Flags().StringArrayVarP(&ignoreDirs, "ignore-dir", "i", nil, "skip directories whose path relative to the source starts with this prefix (repeatable)")
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	}

	// Add commands
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string, direction sync.Direction) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger := setupLogger()

	source, dest := args[0], args[1]
	var (
		src, dst sync.Tree
		transfer sync.Transferer
	)

	switch direction {
	case sync.DirectionPull:
		client, err := connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("device check failed", "error", err)
			return err
		}
		src = tree.NewRemoteTree(client)
		dst = tree.NewOSTree()
		transfer = tree.PullTransfer{Client: client}
		dest = filepath.ToSlash(dest)

	case sync.DirectionPush:
		client, err := connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("device check failed", "error", err)
			return err
		}
		src = tree.NewOSTree()
		dst = tree.NewRemoteTree(client)
		transfer = tree.PushTransfer{Client: client}
		source = filepath.ToSlash(source)

	case sync.DirectionMirror:
		fs := afero.NewOsFs()
		src = tree.NewLocalTree(fs)
		dst = tree.NewLocalTree(fs)
		transfer = tree.CopyTransfer{Src: fs, Dst: fs}
		source = filepath.ToSlash(source)
		dest = filepath.ToSlash(dest)
	}

	engine := sync.NewEngine(src, dst, transfer, sync.Options{
		SetTimes:      cfg.Sync.SetTimes,
		DeleteOrphans: cfg.Sync.DeleteIfDNE,
		IgnoreDirs:    cfg.Sync.IgnoreDirs,
		Direction:     direction,
		DryRun:        dryRun,
	}, logger)

	start := time.Now()
	report, err := engine.Run(ctx, source, dest)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	logger.Info("done", "changed", report.Changed(), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	devices, err := adb.NewShellClient(cfg.ADB.Binary, "").Devices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(out, "no devices attached")
		return nil
	}
	for _, d := range devices {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", d.Serial, d.State)
	}
	return nil
}

// connect checks that the device to sync with is attached and returns a
// client scoped to it.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (adb.Client, error) {
	devices, err := adb.NewShellClient(cfg.ADB.Binary, "").Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		logger.Info("attached device", "serial", d.Serial, "state", d.State)
	}

	device, err := adb.SelectDevice(devices, cfg.ADB.Serial)
	if err != nil {
		return nil, err
	}
	logger.Debug("using device", "serial", device.Serial)

	return adb.NewShellClient(cfg.ADB.Binary, device.Serial), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}

	return slog.New(handler)
}

// loadConfig reads the config file and folds the command line flags into it.
// Flags win over the file; the effective log settings end up in the log
// flag globals.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadOptional(config.DefaultPath())
	}
	if err != nil {
		return nil, err
	}

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel = cfg.Log.Level
	logFormat = cfg.Log.Format
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}

	if changed("adb") {
		cfg.ADB.Binary = adbBinary
	}
	if changed("serial") {
		cfg.ADB.Serial = serial
	}
	if changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = logFormat
	}

	cfg.Sync.SetTimes = cfg.Sync.SetTimes || setTimes
	cfg.Sync.DeleteIfDNE = cfg.Sync.DeleteIfDNE || deleteIfDNE
	for _, dir := range ignoreDirs {
		if !slices.Contains(cfg.Sync.IgnoreDirs, dir) {
			cfg.Sync.IgnoreDirs = append(cfg.Sync.IgnoreDirs, dir)
		}
	}
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
