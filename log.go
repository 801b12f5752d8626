// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"log/slog"
)

// LevelTrace is the level at which compiled and executed SQL is logged.
const LevelTrace = slog.LevelDebug - 4

func logSQL(ctx context.Context, logger *slog.Logger, msg, sql string, args []any) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.Log(ctx, LevelTrace, msg, slog.String("sql", sql), slog.Any("args", args))
}
