// Command sflow is the hotkey dictation client: press a hotkey, speak, press
// it again and the corrected (or translated) text is pasted into the focused
// window.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.design/x/hotkey/mainthread"

	"github.com/MrWong99/sflow/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	envFiles   []string
	level      *slog.LevelVar
}

func main() {
	code := 0
	// The hotkey backend needs the process main thread on macOS.
	mainthread.Init(func() { code = run() })
	os.Exit(code)
}

func run() int {
	g := &globals{level: new(slog.LevelVar)}
	slog.SetDefault(newLogger(g.level))

	if err := newRootCmd(g).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sflow: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "sflow",
		Short:         "Hotkey dictation with remote transcription and correction",
		Long:          "sflow records speech while a hotkey is toggled, transcribes it remotely, corrects or translates it with a chat model and pastes the result.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to the YAML configuration file (default: <user config dir>/sflow/config.yaml)")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "env files loaded before the config")

	root.AddCommand(
		newRunCmd(g),
		newTranscribeCmd(g),
		newStatsCmd(g),
		newDevicesCmd(g),
	)
	return root
}

// loadConfig loads the env files and the config file, then applies the
// configured log level. A missing config file yields the defaults.
func (g *globals) loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, "", err
	}
	path := g.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	g.level.Set(cfg.LogLevel.Level())
	return cfg, path, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
