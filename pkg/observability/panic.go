// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Fields of the record emitted for a panic.
const (
	PanicFileKey   = "panic.file"
	PanicLineKey   = "panic.line"
	PanicColumnKey = "panic.column"
)

var panicHook atomic.Pointer[PanicBridge]

// PanicBridge turns panics into structured error records.
type PanicBridge struct {
	logger   *zap.Logger
	previous *PanicBridge
	onPanic  func()
}

// InstallPanicBridge registers a bridge that writes panic records to logger.
// The last installed bridge wins. Uninstall restores the previous one.
func InstallPanicBridge(logger *zap.Logger) *PanicBridge {
	return installPanicBridge(logger, nil)
}

func installPanicBridge(logger *zap.Logger, onPanic func()) *PanicBridge {
	b := &PanicBridge{logger: logger, onPanic: onPanic}
	b.previous = panicHook.Swap(b)
	return b
}

// Uninstall restores the bridge that was active before this one, if this
// bridge is still the active one.
func (b *PanicBridge) Uninstall() {
	panicHook.CompareAndSwap(b, b.previous)
}

// ReportPanic must be deferred directly. It recovers a panic, writes one
// error record with the panic message and the source location of the panic,
// and panics again with the same value, so the panic keeps propagating.
//
//	go func() {
//		defer observability.ReportPanic()
//		work()
//	}()
func ReportPanic() {
	r := recover()
	if r == nil {
		return
	}
	if b := panicHook.Load(); b != nil {
		if loc := panicLocation(); !loc.rethrown {
			b.report(r, loc)
		}
	}
	panic(r)
}

// Go runs fn in a new goroutine with ReportPanic deferred.
func Go(fn func()) {
	go func() {
		defer ReportPanic()
		fn()
	}()
}

type location struct {
	file   string
	line   int
	column int
	known  bool
	// rethrown is set when the panic was raised again by ReportPanic, which
	// has already written the record.
	rethrown bool
}

const reportPanicFunc = instrumentationName + ".ReportPanic"

// report writes the record synchronously. It must not block or panic.
func (b *PanicBridge) report(r any, loc location) {
	defer func() {
		// A broken output must not replace the original panic.
		_ = recover()
	}()

	fields := []zap.Field{}
	if loc.known {
		fields = append(fields,
			zap.String(PanicFileKey, loc.file),
			zap.Int(PanicLineKey, loc.line),
		)
		if loc.column > 0 {
			fields = append(fields, zap.Int(PanicColumnKey, loc.column))
		}
	}

	b.logger.Error(renderPanic(r), fields...)
	if b.onPanic != nil {
		b.onPanic()
	}
}

// LogRecovered writes the record for a panic value that was recovered by
// the caller, e.g. in HTTP middleware that turns panics into responses.
func LogRecovered(ctx context.Context, r any, fields ...zap.Field) {
	logger := LoggerFromContext(ctx)
	b := panicHook.Load()
	if b != nil {
		logger = b.logger
	}
	loc := panicLocation()
	if loc.rethrown && b != nil {
		return
	}
	if loc.known {
		fields = append(fields,
			zap.String(PanicFileKey, loc.file),
			zap.Int(PanicLineKey, loc.line),
		)
	}
	logger.Error(renderPanic(r), fields...)
	if b != nil && b.onPanic != nil {
		b.onPanic()
	}
}

func renderPanic(r any) string {
	switch v := r.(type) {
	case error:
		return "panic: " + v.Error()
	case string:
		return "panic: " + v
	default:
		return fmt.Sprintf("panic: %v", v)
	}
}

// panicLocation walks the stack of the recovering goroutine and returns the
// frame that called panic. Frames are only inspected while the deferred
// call runs, when runtime.gopanic is still on the stack. The Go runtime does
// not report columns. A panic raised by ReportPanic itself is marked rethrown.
func panicLocation() location {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	afterPanic := false
	for {
		frame, more := frames.Next()
		if afterPanic && !strings.HasPrefix(frame.Function, "runtime.") {
			if frame.Function == reportPanicFunc {
				return location{rethrown: true}
			}
			return location{file: frame.File, line: frame.Line, known: true}
		}
		if frame.Function == "runtime.gopanic" {
			afterPanic = true
		}
		if !more {
			return location{}
		}
	}
}
