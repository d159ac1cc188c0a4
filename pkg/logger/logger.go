// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the structured logger used by tokengate, running
// locally as a CLI and in Kubernetes.
//
// This is a thin layer over toolhive-core/logging. Components never reach
// for a global logger; the *slog.Logger returned by [New] is injected into
// every struct that logs.
package logger

import (
	"io"
	"log/slog"
	"strconv"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// UnstructuredLogsEnv selects text output when set to true.
const UnstructuredLogsEnv = "UNSTRUCTURED_LOGS"

// Options configures the logger.
type Options struct {
	// Debug enables debug level output.
	Debug bool
	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// New creates the logger, reading the format from the process environment.
func New(opts Options) *slog.Logger {
	return NewWithEnv(&env.OSReader{}, opts)
}

// NewWithEnv creates the logger with a custom environment reader. JSON is
// the default format; UNSTRUCTURED_LOGS=true switches to text.
func NewWithEnv(envReader env.Reader, opts Options) *slog.Logger {
	var lopts []logging.Option

	if unstructuredLogsWithEnv(envReader) {
		lopts = append(lopts, logging.WithFormat(logging.FormatText))
	}
	if opts.Debug {
		lopts = append(lopts, logging.WithLevel(slog.LevelDebug))
	}
	if opts.Output != nil {
		lopts = append(lopts, logging.WithOutput(opts.Output))
	}

	l := logging.New(lopts...)
	slog.SetDefault(l)
	return l
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructured, err := strconv.ParseBool(envReader.Getenv(UnstructuredLogsEnv))
	if err != nil {
		// unset or not a boolean
		return false
	}
	return unstructured
}
