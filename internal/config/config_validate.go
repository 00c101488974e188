// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package config

import (
	"fmt"
	"strings"
)

// Validate checks that configuration values are present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateModel() error {
	if c.Model.Path == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if c.Model.EmbeddingDim < 1 {
		return fmt.Errorf("MODEL_EMBEDDING_DIM must be at least 1, got %d", c.Model.EmbeddingDim)
	}
	if c.Model.LearningRate <= 0 {
		return fmt.Errorf("MODEL_LEARNING_RATE must be positive, got %v", c.Model.LearningRate)
	}
	if c.Model.Regularization < 0 {
		return fmt.Errorf("MODEL_REGULARIZATION must not be negative, got %v", c.Model.Regularization)
	}
	if c.Model.Epochs < 1 {
		return fmt.Errorf("MODEL_EPOCHS must be at least 1, got %d", c.Model.Epochs)
	}
	if c.Model.BatchSize < 1 {
		return fmt.Errorf("MODEL_BATCH_SIZE must be at least 1, got %d", c.Model.BatchSize)
	}
	if c.Model.MaxInteractions < 1 {
		return fmt.Errorf("MODEL_MAX_INTERACTIONS must be at least 1, got %d", c.Model.MaxInteractions)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if !c.Scheduler.Enabled {
		return nil
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive, got %v", c.Scheduler.TickInterval)
	}
	if c.Scheduler.RetrainInterval <= 0 {
		return fmt.Errorf("RETRAIN_INTERVAL must be positive, got %v", c.Scheduler.RetrainInterval)
	}
	if c.Scheduler.InteractionThreshold < 1 {
		return fmt.Errorf("INTERACTION_THRESHOLD must be at least 1, got %d", c.Scheduler.InteractionThreshold)
	}
	if c.Scheduler.RunTimeout <= 0 {
		return fmt.Errorf("TRAINING_TIMEOUT must be positive, got %v", c.Scheduler.RunTimeout)
	}
	if err := validateHour("RETRAIN_WINDOW_START", c.Scheduler.WindowStartHour); err != nil {
		return err
	}
	return validateHour("RETRAIN_WINDOW_END", c.Scheduler.WindowEndHour)
}

func validateHour(name string, hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%s must be between 0 and 23, got %d", name, hour)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultLimit < 1 {
		return fmt.Errorf("API_DEFAULT_LIMIT must be at least 1, got %d", c.API.DefaultLimit)
	}
	if c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("API_MAX_LIMIT (%d) must not be less than API_DEFAULT_LIMIT (%d)",
			c.API.MaxLimit, c.API.DefaultLimit)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal; got %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
