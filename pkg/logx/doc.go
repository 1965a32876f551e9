// Package logx configures groupcast's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional "saved messages" sink through the userbot (min-level + rate limiting)
package logx
