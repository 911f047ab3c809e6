package main

import (
	"os"

	"github.com/bobboyms/storage-engine/pkg/checkpoint"
	"github.com/bobboyms/storage-engine/pkg/rawlock"
	"github.com/bobboyms/storage-engine/pkg/storage"
	"github.com/bobboyms/storage-engine/pkg/wal"
	"github.com/bobboyms/storage-engine/pkg/walog"
	"github.com/rs/zerolog"
)

// log is the CLI's own component-tagged logger, rebuilt by initLogging once
// the --log-level/--log-json flags are known.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "tpcb").Logger()

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if logJSON {
		base = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}

	// Each package logs through its own component-tagged child logger;
	// rebind them all to the CLI's chosen level/format.
	wal.SetLogger(base.With().Str("component", "wal").Logger())
	walog.SetLogger(base.With().Str("component", "walog").Logger())
	rawlock.SetLogger(base.With().Str("component", "rawlock").Logger())
	checkpoint.SetLogger(base.With().Str("component", "checkpoint").Logger())
	storage.SetLogger(base.With().Str("component", "storage").Logger())

	log = base.With().Str("component", "tpcb").Logger()
}
