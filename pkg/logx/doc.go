// Package logx provides the process-wide structured logger.
//
// It wraps zerolog behind a small Logger value so call sites stay stable
// while the Service re-applies sink configuration (console/file, level)
// on config reload.
package logx
