// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// spanEventCore records log entries as events of a span. Entries at error
// level and above also mark the span as failed.
type spanEventCore struct {
	span   trace.Span
	filter *Filter
	fields []zapcore.Field
}

var _ zapcore.Core = &spanEventCore{}

func newSpanEventCore(span trace.Span, filter *Filter) *spanEventCore {
	return &spanEventCore{span: span, filter: filter}
}

func (c *spanEventCore) Enabled(l zapcore.Level) bool {
	return c.span.IsRecording() && severity(l) >= c.filter.MinLevel()
}

func (c *spanEventCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *spanEventCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.span.IsRecording() || !c.filter.Enabled(entryTarget(ent), ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *spanEventCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	attrs := make([]attribute.KeyValue, 0, len(enc.Fields)+2)
	attrs = append(attrs,
		attribute.String(LevelKey, strings.ToUpper(LevelName(ent.Level))),
		attribute.String(TargetKey, entryTarget(ent)),
	)
	attrs = append(attrs, mapToOtelAttributes(enc.Fields)...)

	c.span.AddEvent(ent.Message, trace.WithTimestamp(ent.Time), trace.WithAttributes(attrs...))
	if severity(ent.Level) >= zapcore.ErrorLevel {
		c.span.SetStatus(codes.Error, ent.Message)
	}
	return nil
}

func (c *spanEventCore) Sync() error {
	return nil
}

// mapToOtelAttributes converts encoded zap fields to span attributes,
// sorted by key for a stable order.
func mapToOtelAttributes(fields map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attributes := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		var keyValue attribute.KeyValue
		switch v := fields[key].(type) {
		case bool:
			keyValue = attribute.Bool(key, v)
		case string:
			keyValue = attribute.String(key, v)
		case int:
			keyValue = attribute.Int(key, v)
		case int8, int16, int32, int64, uint8, uint16, uint32:
			keyValue = attribute.Int64(key, toInt64(v))
		case float32, float64:
			keyValue = attribute.Float64(key, toFloat64(v))
		case fmt.Stringer:
			keyValue = attribute.String(key, v.String())
		default:
			keyValue = attribute.String(key, fmt.Sprint(v))
		}
		attributes = append(attributes, keyValue)
	}
	return attributes
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	default:
		return 0
	}
}

func toFloat64(value any) float64 {
	switch v := value.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
