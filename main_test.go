package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vrct-tts/connector/internal/cache"
	"github.com/vrct-tts/connector/internal/history"
	"github.com/vrct-tts/connector/internal/ttypes"
)

func TestDefaultConfigMatchesDefaults(t *testing.T) {
	file := viper.New()
	file.SetConfigType("yaml")
	if err := file.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}
	defaults := viper.New()
	setDefaults(defaults)

	for _, key := range file.AllKeys() {
		if !defaults.IsSet(key) {
			t.Errorf("%s is in the default config but has no default", key)
			continue
		}
		if got, want := file.GetString(key), defaults.GetString(key); got != want {
			t.Errorf("%s: config file says %q, default is %q", key, got, want)
		}
	}
	if got := defaults.GetDuration("gtts.retry_backoff"); got != 500*time.Millisecond {
		t.Errorf("gtts.retry_backoff = %v", got)
	}
}

func TestEnsureConfigFile(t *testing.T) {
	saved := configFile
	t.Cleanup(func() { configFile = saved })

	t.Run("writes default", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "nested", "vrct-tts.yml")
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile: %v", err)
		}
		b, err := os.ReadFile(configFile)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != defaultConfig {
			t.Error("written config differs from the default")
		}
	})

	t.Run("keeps existing", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "vrct-tts.yaml")
		if err := os.WriteFile(configFile, []byte("listen: \":9000\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile: %v", err)
		}
		b, _ := os.ReadFile(configFile)
		if string(b) != "listen: \":9000\"\n" {
			t.Errorf("existing config overwritten: %q", b)
		}
	})

	t.Run("rejects other types", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "vrct-tts.toml")
		if err := ensureConfigFile(); err == nil {
			t.Fatal("expected an error for a .toml config")
		}
	})
}

func TestBootstrapLogsConfigProblemsWithLogConfig(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "vrct-tts.log")
	if err := os.WriteFile(filepath.Join(dir, appName+".yml"), []byte("listen: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VRCT_TTS_CONFIG_HOME", dir)
	t.Setenv("VRCT_TTS_LOG_FILE", logFile)
	t.Setenv("VRCT_TTS_LOG_FORMAT", "json")
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFormatter(log.TextFormatter)
		log.SetReportTimestamp(false)
		log.SetLevel(log.InfoLevel)
		viper.Reset()
		setDefaults(viper.GetViper())
	})

	closer, err := bootstrap()
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"Could not parse configuration file"`) {
		t.Errorf("config warning missing from the json log:\n%s", b)
	}
}

func TestFilterVoices(t *testing.T) {
	voices := []ttypes.VoiceDescriptor{
		{ID: "2", DisplayName: "四国めたん (ノーマル)", LanguageTag: "ja"},
		{ID: "3", DisplayName: "ずんだもん (ノーマル)", LanguageTag: "ja"},
		{ID: "com.au", DisplayName: "English (Australia)", LanguageTag: "en"},
		{ID: "co.uk", DisplayName: "English (United Kingdom)", LanguageTag: "en"},
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"2", "3", "com.au", "co.uk"}},
		{"  ", []string{"2", "3", "com.au", "co.uk"}},
		{"australia", []string{"com.au"}},
		{"ずんだ", []string{"3"}},
		{"kingdom", []string{"co.uk"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := filterVoices(voices, tt.query)
			var ids []string
			for _, v := range got {
				ids = append(ids, v.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("filterVoices(%q) = %v, want %v", tt.query, ids, tt.want)
			}
		})
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printHistory(cmd, nil)
	if !strings.Contains(buf.String(), "no requests recorded") {
		t.Errorf("empty history output = %q", buf.String())
	}

	buf.Reset()
	printHistory(cmd, []history.Record{
		{Engine: "gtts", Text: "hello", Bytes: 2048, CacheHit: true, CreatedAt: time.Now()},
		{Engine: "voicevox", Text: "こんにちは", Code: 1000, CreatedAt: time.Now()},
	})
	out := buf.String()
	for _, want := range []string{"gtts (cached)", "hello", "1000", "こんにちは"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
}

func TestCacheCommands(t *testing.T) {
	viper.Set("cache.disk.dir", t.TempDir())
	t.Cleanup(func() { viper.Set("cache.disk.dir", "") })

	m, err := newCache()
	if err != nil {
		t.Fatal(err)
	}
	old := cache.Entry{Audio: []byte("old audio"), Format: ttypes.FormatMP3, CreatedAt: time.Now().Add(-72 * time.Hour)}
	_, _ = m.Put("old", old)
	_, _ = m.Put("new", cache.Entry{Audio: []byte("new audio"), Format: ttypes.FormatWAV})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	if err := cacheCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if !strings.Contains(buf.String(), "2 entries") {
		t.Errorf("stats output = %q", buf.String())
	}

	buf.Reset()
	cacheOlderThan = 24 * time.Hour
	err = cacheClearCmd.RunE(cmd, nil)
	cacheOlderThan = 0
	if err != nil {
		t.Fatalf("cache clear --older-than: %v", err)
	}
	if !strings.Contains(buf.String(), "removed 1 entries") {
		t.Errorf("prune output = %q", buf.String())
	}

	buf.Reset()
	if err := cacheClearCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if !strings.Contains(buf.String(), "removed 1 entries") {
		t.Errorf("clear output = %q", buf.String())
	}

	m, err = newCache()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if s := m.Stats(); s.Disk == nil || s.Disk.ItemCount != 0 {
		t.Errorf("disk stats after clear = %+v", s.Disk)
	}
}

func TestPrintCacheStats(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printCacheStats(cmd, cache.ManagerStats{})
	if !strings.Contains(buf.String(), "disk cache disabled") {
		t.Errorf("output = %q", buf.String())
	}
}
