// Package logx configures remindbot's structured logging.
//
// It is a thin wrapper (logx.Logger) over zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels and sinks swappable at runtime via Service.Apply
package logx
