// Package eventprocessor turns fork events of the tracked shell into reports.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      proc connector fork events         │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Tracking filter
//	│   - parent must be the tracked shell    │
//	│   - thread clones are skipped           │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ pwdresolver ─────→ polls child SHLVL until it leaves
//	          │                       the shell's baseline, then reads PWD
//	          │
//	          ├──→ cwdcheck ────────→ compares PWD with /proc/<shell>/cwd
//	          │                       (mismatch is logged, not fatal)
//	          │
//	          └──→ output.Reporter ─→ stdout line, optional span
//
// Each event is handled to completion before HandleFork returns. Errors are
// scoped to the event; the stream loop logs them and continues.
package eventprocessor
