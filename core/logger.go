package core

// logger.go — structured logging shared by the Hub, the agent Runtime, and
// the bridges. The Registry does not log.
//
// The reference architecture this module grew out of wrote its own
// file-appending Logger; this rewrite replaces it with go.uber.org/zap,
// which the module's own dependency tree already pulls in transitively
// (through the libp2p / ipfs/go-log stack) but never wires directly.

import "go.uber.org/zap"

// NewLogger builds a development-friendly zap logger. Callers that need a
// production JSON logger should build their own zap.Config and pass the
// resulting *zap.Logger around instead; nothing in this package requires a
// process-wide logging singleton.
func NewLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		// zap.NewDevelopment only fails on a broken encoder config, which
		// never happens with the built-in config it uses internally.
		panic(err)
	}
	return logger
}

// NopLogger returns a logger that discards everything, for tests and for
// callers that genuinely want silence.
func NopLogger() *zap.Logger { return zap.NewNop() }
