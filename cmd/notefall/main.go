package main

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cbegin/notefall-go/internal/config"
)

var (
	configPath string
	logLevel   string
	debug      bool

	logger = log.New(os.Stderr)
	cfg    = config.Default()
)

var rootCmd = &cobra.Command{
	Use:           "notefall",
	Short:         "Falling-note score visualizer",
	Long:          `notefall plays a MIDI file as falling notes over a piano keyboard, synchronized to SoundFont audio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := log.InfoLevel
		if debug {
			level = log.DebugLevel
		} else if logLevel != "" {
			l, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			level = l
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{
			Level:           level,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
		if configPath == "" {
			return nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger.Debug("config loaded", "path", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "shorthand for --log-level=debug")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}
