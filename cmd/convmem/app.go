package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/config"
	"github.com/becomeliminal/convmem/engine"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/embedder/provider"
	"github.com/becomeliminal/convmem/memory/store/chromem"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	memory  *memory.Manager
	engine  *engine.Engine
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, verbose bool) (*app, error) {
	logger, err := newLogger(cfg.Log.Level, verbose)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	mc, err := cfg.MemoryConfig()
	if err != nil {
		return nil, err
	}
	mc.Logger = logger

	if addr := cfg.Sequencer.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Sequencer.RedisPassword,
			DB:       cfg.Sequencer.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		a.closers = append(a.closers, client.Close)
		mc.Sequencer = memory.NewRedisSequencer(client, cfg.Store.Path)
		logger.Debug("using redis sequencer", zap.String("addr", addr))
	}

	emb, err := provider.New(cfg.EmbedderConfig())
	if err != nil {
		a.close()
		return nil, err
	}
	store, err := chromem.New(chromem.Options{
		Path:     cfg.Store.Path,
		Compress: cfg.Store.Compress,
		Embedder: emb,
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	m, err := memory.NewManager(store, mc)
	if err != nil {
		_ = store.Close()
		a.close()
		return nil, err
	}
	a.memory = m
	a.closers = append([]func() error{m.Close}, a.closers...)

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Extractor.APIKey != "" {
		client := anthropic.NewClient(
			option.WithAPIKey(cfg.Extractor.APIKey),
			option.WithMaxRetries(2),
		)
		gen := engine.NewAnthropicGenerator(&client, cfg.Extractor.Model, cfg.Extractor.MaxTokens)
		opts = append(opts, engine.WithExtractor(engine.NewExtractor(gen, m, logger)))
	}
	a.engine = engine.New(m, opts...)

	logger.Debug("memory opened",
		zap.String("store", store.String()),
		zap.String("embedder", cfg.Embedder.Provider))
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// newLogger builds a production zap logger on stderr. verbose forces debug.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stderr"}

	logLevel := zap.InfoLevel
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(level)); err != nil {
			fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", level)
			logLevel = zap.InfoLevel
		}
	}
	if verbose {
		logLevel = zap.DebugLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
