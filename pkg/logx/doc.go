// Package logx configures chronoflow's structured logging.
//
// This is a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A zero Logger a safe no-op, so components can be built before logging
//     is wired up
package logx
