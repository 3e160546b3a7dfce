// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	// TraceLevel is the most verbose level, below zapcore.DebugLevel.
	TraceLevel = zapcore.DebugLevel - 1
	// OffLevel is above every level a logger can emit. A filter at OffLevel
	// suppresses everything.
	OffLevel = zapcore.FatalLevel + 1
)

// ParseLevel converts a textual level into a zapcore.Level.
// Accepted values are trace, debug, info, warn (or warning), error and off.
func ParseLevel(text string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "off":
		return OffLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown level %q", text)
}

// LevelName renders a level the way it is written in directives.
func LevelName(l zapcore.Level) string {
	switch l {
	case TraceLevel:
		return "trace"
	case OffLevel:
		return "off"
	}
	return l.String()
}

// capitalLevelEncoder is zapcore.CapitalLevelEncoder with knowledge of TraceLevel.
func capitalLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

// severity folds zap's panic levels into error. Filters only know the
// five severities trace..error.
func severity(l zapcore.Level) zapcore.Level {
	if l > zapcore.ErrorLevel {
		return zapcore.ErrorLevel
	}
	return l
}
