// Package main provides the entry point for the VRCT TTS connector.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vrct-tts/connector/internal/utils"
)

const appName = "vrct-tts"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   appName,
		Short: "Speak VRCT chat messages with VOICEVOX or Google TTS",
		Long: paragraph(
			fmt.Sprintf("\nA websocket bridge that turns %s messages into speech on up to two audio devices.", keyword("VRCT")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: serve,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		log.Debug("Using configuration file", "path", configFile)
	}

	if debug || viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if !strings.HasPrefix(viper.GetString("ws_path"), "/") {
		return fmt.Errorf("ws_path must start with /, got %q", viper.GetString("ws_path"))
	}
	if n := viper.GetInt("cache.max_entries"); n < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1, got %d", n)
	}
	if d := viper.GetDuration("cache.disk.max_age"); d < 0 {
		return fmt.Errorf("cache.disk.max_age must not be negative, got %s", d)
	}
	if lvl := viper.GetInt("cache.disk.compression_level"); lvl < 1 || lvl > 22 {
		return fmt.Errorf("cache.disk.compression_level must be between 1 and 22, got %d", lvl)
	}
	if n := viper.GetInt("gtts.requests_per_minute"); n < 1 {
		return fmt.Errorf("gtts.requests_per_minute must be at least 1, got %d", n)
	}
	for _, key := range []string{"voicevox.timeout", "gtts.timeout"} {
		if d := viper.GetDuration(key); d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", key, viper.GetString(key))
		}
	}
	return nil
}

func main() {
	closer, err := bootstrap()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

// bootstrap configures logging from the environment and .env, then locates
// the config file.
func bootstrap() (func() error, error) {
	loadDotEnv()
	closer, err := setupLog()
	if err != nil {
		return nil, err
	}
	tryLoadConfigFromDefaultPlaces()
	return closer, nil
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: "+appName+".yml in the user config directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().String("listen", "127.0.0.1:2231", "websocket listen address")
	rootCmd.PersistentFlags().String("path", "/", "websocket endpoint path")
	rootCmd.PersistentFlags().Bool("no-history", false, "do not record synthesis history")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	_ = viper.BindPFlag("ws_path", rootCmd.PersistentFlags().Lookup("path"))
	_ = viper.BindPFlag("no_history", rootCmd.PersistentFlags().Lookup("no-history"))

	setDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd, configCmd, manCmd, devicesCmd, voicesCmd, historyCmd, cacheCmd)
}

// setDefaults registers the default of every configuration key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:2231")
	v.SetDefault("ws_path", "/")

	v.SetDefault("voicevox.url", "http://127.0.0.1:50021")
	v.SetDefault("voicevox.timeout", 5*time.Second)

	v.SetDefault("gtts.url", "https://translate.google.%s/translate_tts")
	v.SetDefault("gtts.timeout", 10*time.Second)
	v.SetDefault("gtts.retry_backoff", 500*time.Millisecond)
	v.SetDefault("gtts.requests_per_minute", 60)

	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.disk.enabled", true)
	v.SetDefault("cache.disk.dir", "")
	v.SetDefault("cache.disk.max_size_mb", 256)
	v.SetDefault("cache.disk.compression_level", 3)
	v.SetDefault("cache.disk.max_age", "0s")

	v.SetDefault("settings.file", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", 7)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("playback.chunk_frames", 1024)
}

// loadDotEnv reads .env from the working directory. A missing file is not
// an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not parse .env file", "err", err)
	}
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("VRCT_TTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("vrct_tts")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], appName+".yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}

// dataPath resolves a configured path, defaulting to name inside one of the
// user directories of the application scope.
func dataPath(key string, dir func(*gap.Scope) (string, error), name string) (string, error) {
	if p := viper.GetString(key); p != "" {
		return utils.ExpandPath(p), nil
	}
	base, err := dir(gap.NewScope(gap.User, appName))
	if err != nil {
		return "", fmt.Errorf("unable to resolve default %s: %w", key, err)
	}
	return filepath.Join(base, name), nil
}

func userCacheDir(s *gap.Scope) (string, error) { return s.CacheDir() }

func userConfigDir(s *gap.Scope) (string, error) {
	dirs, err := s.ConfigDirs()
	if err != nil || len(dirs) == 0 {
		return "", errors.Join(err, errors.New("no config directory"))
	}
	return dirs[0], nil
}

func userDataDir(s *gap.Scope) (string, error) {
	dirs, err := s.DataDirs()
	if err != nil || len(dirs) == 0 {
		return "", errors.Join(err, errors.New("no data directory"))
	}
	return dirs[0], nil
}
