// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/mediasync/internal/validation"
)

// ConfigError reports the first invalid configuration field. Message
// already names the field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// Validate checks struct constraints and returns a *ConfigError.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		f := verr.Fields[0]
		return &ConfigError{Field: f.Field, Message: f.Message}
	}
	return &ConfigError{Field: "config", Message: err.Error()}
}
