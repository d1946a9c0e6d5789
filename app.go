package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vrct-tts/connector/internal/audio"
	"github.com/vrct-tts/connector/internal/cache"
	"github.com/vrct-tts/connector/internal/catalog"
	"github.com/vrct-tts/connector/internal/history"
	"github.com/vrct-tts/connector/internal/server"
	"github.com/vrct-tts/connector/internal/settings"
	"github.com/vrct-tts/connector/internal/telemetry"
	"github.com/vrct-tts/connector/internal/tts"
	"github.com/vrct-tts/connector/internal/tts/engines"
	"github.com/vrct-tts/connector/internal/ttypes"
)

const pruneInterval = time.Hour

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineSet, err := newEngines()
	if err != nil {
		return err
	}
	voices := catalog.New(engineSet[ttypes.EngineLocal], log.WithPrefix("catalog"))
	go voices.RefreshLocal(ctx)

	store, err := openSettings(ctx)
	if err != nil {
		return err
	}

	audioCache, err := newCache()
	if err != nil {
		return err
	}
	defer closeLogged("cache", audioCache.Close)

	hist, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeLogged("history", hist.Close)
	go pruneHistory(ctx, hist)

	var (
		metrics      *telemetry.Metrics
		metricsRoute http.Handler
	)
	if viper.GetBool("metrics.enabled") {
		var shutdown func(context.Context) error
		metrics, metricsRoute, shutdown, err = telemetry.Setup()
		if err != nil {
			return fmt.Errorf("unable to set up metrics: %w", err)
		}
		defer closeLogged("metrics", func() error { return shutdown(context.Background()) })
	}

	router, err := newRouter()
	if err != nil {
		return err
	}
	defer closeLogged("audio", router.Close)

	opts := tts.Options{
		Settings: store,
		Cache:    audioCache,
		Engines:  engineSet,
		Catalog:  voices,
		Player:   router,
		Metrics:  metrics,
		Logger:   log.WithPrefix("dispatcher"),
	}
	if hist.Enabled() {
		opts.History = hist
	}
	dispatcher, err := tts.NewDispatcher(opts)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:    viper.GetString("listen"),
		Path:    viper.GetString("ws_path"),
		Metrics: metricsRoute,
		Health: func() map[string]any {
			return map[string]any{"cache": audioCache.Stats(), "voices_refreshed_at": voices.RefreshedAt()}
		},
	}, dispatcher, log.WithPrefix("server"))

	err = srv.Start(ctx)
	router.StopAll()
	dispatcher.Wait()
	return err
}

func newEngines() (map[ttypes.EngineKind]ttypes.Engine, error) {
	local, err := engines.NewVoicevoxEngine(engines.VoicevoxConfig{
		BaseURL: viper.GetString("voicevox.url"),
		Timeout: viper.GetDuration("voicevox.timeout"),
	}, log.WithPrefix("voicevox"))
	if err != nil {
		return nil, fmt.Errorf("unable to create VOICEVOX engine: %w", err)
	}

	cloud, err := engines.NewGTTSEngine(engines.GTTSConfig{
		Endpoint:          viper.GetString("gtts.url"),
		Timeout:           viper.GetDuration("gtts.timeout"),
		RetryBackoff:      viper.GetDuration("gtts.retry_backoff"),
		RequestsPerMinute: viper.GetInt("gtts.requests_per_minute"),
	}, log.WithPrefix("gtts"))
	if err != nil {
		return nil, fmt.Errorf("unable to create gTTS engine: %w", err)
	}

	return map[ttypes.EngineKind]ttypes.Engine{
		ttypes.EngineLocal: local,
		ttypes.EngineCloud: cloud,
	}, nil
}

// openSettings loads the settings file and follows edits made to it while
// running.
func openSettings(ctx context.Context) (*settings.Store, error) {
	path, err := dataPath("settings.file", userConfigDir, "settings.yml")
	if err != nil {
		return nil, err
	}
	logger := log.WithPrefix("settings")
	store, err := settings.Load(path, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to load settings: %w", err)
	}

	store.Subscribe(func(s settings.Settings) {
		logger.Info("settings changed", "engine", s.DefaultEngine, "language", s.DefaultLanguage,
			"target", s.DeviceTarget, "volume", s.Volume, "speed", s.Speed)
	})
	go func() {
		if err := store.Watch(ctx); err != nil {
			logger.Warn("not watching settings file", "path", path, "error", err)
		}
	}()
	return store, nil
}

func newCache() (*cache.Manager, error) {
	cfg := cache.DefaultConfig()
	cfg.MaxEntries = viper.GetInt("cache.max_entries")
	cfg.DiskEnabled = viper.GetBool("cache.disk.enabled")
	cfg.DiskCapacity = viper.GetInt64("cache.disk.max_size_mb") * 1024 * 1024
	cfg.CompressionLevel = viper.GetInt("cache.disk.compression_level")
	if cfg.DiskEnabled {
		dir, err := dataPath("cache.disk.dir", userCacheDir, "audio")
		if err != nil {
			return nil, err
		}
		cfg.DiskPath = dir
	}

	m, err := cache.NewManager(cfg, log.WithPrefix("cache"))
	if err != nil {
		return nil, fmt.Errorf("unable to create audio cache: %w", err)
	}
	if age := viper.GetDuration("cache.disk.max_age"); age > 0 {
		m.Prune(age)
	}
	return m, nil
}

func openHistory(ctx context.Context) (*history.Store, error) {
	cfg := history.Config{
		Enabled:       viper.GetBool("history.enabled") && !viper.GetBool("no_history"),
		RetentionDays: viper.GetInt("history.retention_days"),
	}
	if cfg.Enabled {
		path, err := dataPath("history.path", userDataDir, "history.db")
		if err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	s, err := history.Open(ctx, cfg, log.WithPrefix("history"))
	if err != nil {
		return nil, fmt.Errorf("unable to open history: %w", err)
	}
	return s, nil
}

func pruneHistory(ctx context.Context, s *history.Store) {
	if !s.Enabled() {
		return
	}
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("could not prune history", "error", err)
			}
		}
	}
}

// newRouter opens indexed devices through miniaudio and keeps oto as the
// default-device fallback.
func newRouter() (*audio.Router, error) {
	logger := log.WithPrefix("audio")
	cfg := audio.RouterConfig{
		Fallback:    audio.NewOtoBackend(logger),
		ChunkFrames: viper.GetInt("playback.chunk_frames"),
	}
	if b, err := audio.NewMalgoBackend(logger); err != nil {
		logger.Warn("device selection unavailable, using the default device", "error", err)
	} else {
		cfg.Devices = b
	}

	r, err := audio.NewRouter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to set up audio: %w", err)
	}
	return r, nil
}

func closeLogged(what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("close failed", "what", what, "error", err)
	}
}
