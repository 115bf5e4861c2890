// Package applog wires zerolog identically for every gorrent binary: a
// console writer to stderr multi-written with an append-mode log file,
// so cmd/peer and cmd/tracker log the same way instead of each binary
// reinventing its own setup.
package applog

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logFile *os.File

// Init opens the configured log file (LOG_FILE env var, default
// gorrent.log) and points the global zerolog logger at it plus stderr.
// name and version are logged once at startup to identify which binary
// produced a given log file.
func Init(name, version string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	logFilePath := os.Getenv("LOG_FILE")
	if logFilePath == "" {
		logFilePath = "gorrent.log"
	}

	if logDir := filepath.Dir(logFilePath); logDir != "." {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			println("Error creating log directory: " + err.Error())
		}
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		println("Error opening log file: " + err.Error())
	}
	multi := zerolog.MultiLevelWriter(consoleWriter, logFile)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()

	log.Info().Msgf("%s v%s", name, version)
}

// Shutdown closes the log file, if one was opened by Init.
func Shutdown() {
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			println("Error closing log file: " + err.Error())
		}
	}
}
