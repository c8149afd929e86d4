// Package logx is relaybot's structured logging layer on top of zerolog.
//
// Console output is human readable with a short caller, the optional file sink
// is JSON, and an optional Telegram sink forwards warnings to an operator chat
// with a rate limit. Loggers are plain values passed to each component.
package logx
