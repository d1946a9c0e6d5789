package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# websocket listen address
listen: "127.0.0.1:2231"
# websocket endpoint path
ws_path: "/"

# Local engine (VOICEVOX)
voicevox:
  url: "http://127.0.0.1:50021"
  # bound for one synthesis round trip
  timeout: "5s"

# Cloud engine (Google Translate TTS); %s is replaced by the accent domain
gtts:
  url: "https://translate.google.%s/translate_tts"
  timeout: "10s"
  # wait before the single retry of a transient failure
  retry_backoff: "500ms"
  requests_per_minute: 60

cache:
  # entries kept in memory
  max_entries: 100
  disk:
    enabled: true
    # dir: "~/.cache/vrct-tts/audio"
    max_size_mb: 256
    # zstd level (1-22)
    compression_level: 3
    # drop entries older than this at startup; 0s keeps them
    max_age: "0s"

# runtime defaults changed by SET_DEFAULT_VOICE and SET_GLOBAL_SETTINGS
# settings:
#   file: "~/.config/vrct-tts/settings.yml"

# SQLite log of synthesis requests
history:
  enabled: true
  # path: "~/.local/share/vrct-tts/history.db"
  retention_days: 7

# serve Prometheus metrics on /metrics
metrics:
  enabled: true

playback:
  # frames per chunk written to a device
  chunk_frames: 1024
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the vrct-tts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the vrct-tts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("vrct-tts config\nvrct-tts config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("vrct-tts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

// ensureConfigFile writes the commented default config when configFile
// does not exist yet.
func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if configFile == "" {
			return errors.New("no config file location")
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
