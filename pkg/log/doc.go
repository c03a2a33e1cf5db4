// Package log provides the structured logging abstraction used by roleshift.
//
// Library packages depend only on the [Logger] interface. The binary wires a
// zerolog-backed adapter; tests usually pass [NewNoopLogger].
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	logger = logger.With(log.Partition(1))
//	logger.Info("transition committed", log.Term(7), log.Role("leader"))
//
// # Custom Loggers
//
// Implement the Logger interface to integrate with an existing logging stack.
// With must return a logger that prepends the given fields to every entry.
package log
