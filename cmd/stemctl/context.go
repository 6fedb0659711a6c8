package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/config"
	"github.com/trackfeedback/api/internal/logging"
	"github.com/trackfeedback/api/internal/store"
)

type commandContext struct {
	dbFlag       *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *zap.Logger
	store  *store.Store
}

func newCommandContext(dbFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		dbFlag:       dbFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
			cfg.Database.Path = strings.TrimSpace(*c.dbFlag)
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Server.LogLevel = strings.TrimSpace(*c.logLevelFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger logs to stderr in console format so stdout stays clean for
// tables.
func (c *commandContext) ensureLogger() (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Server.LogLevel
	if c.logLevelFlag == nil || strings.TrimSpace(*c.logLevelFlag) == "" {
		level = "warn"
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

func (c *commandContext) openStore() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open render store %s: %w", cfg.Database.Path, err)
	}
	c.store = st
	return st, nil
}

func (c *commandContext) blobStore(ctx context.Context) (client.StorageClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.R2.Configured() {
		return client.NewR2Client(ctx, &cfg.R2)
	}
	return client.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicBase)
}

func (c *commandContext) close() {
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
