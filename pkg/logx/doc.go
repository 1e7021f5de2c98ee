// Package logx configures orderbot's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON Lines, one event per line
//   - Level and sinks can be swapped at runtime (config hot reload)
package logx
