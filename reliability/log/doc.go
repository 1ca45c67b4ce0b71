// Package log defines the logging interface used across the library.
//
// Adapters (such as the zap package) implement Logger so applications can keep
// logging calls consistent across backends. NoneLogger is the default when no
// logger is injected.
package log
