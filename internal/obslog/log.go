// Package obslog is the single place the engine builds its zap logger, so
// every component logs at the same level with the same encoding.
package obslog

import "go.uber.org/zap"

// New builds a production logger, or a development logger when debug is
// true. Hot-path code (per-entity, per-cell) must
// never log through it; only init, shutdown, and error paths should.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Noop returns a logger that discards everything, for tests that don't care
// about log output.
func Noop() *zap.Logger {
	return zap.NewNop()
}
