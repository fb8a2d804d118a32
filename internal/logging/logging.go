/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout)
}

// SetupWithWriter configures zerolog to write to out. Development gets a console
// writer at debug level; every other environment gets JSON at info level.
func SetupWithWriter(environment string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out}
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("TORQUE_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "torque").Logger().Level(level)
	log.Logger = logger
	return logger
}
