// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferedLogLayer builds a log layer writing into the returned buffer.
func newBufferedLogLayer(directive string, opts ...LogOption) (*LogLayer, *ReloadHandle, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	opts = append([]LogOption{WithOutput(zapcore.Lock(zapcore.AddSync(buf)))}, opts...)
	layer, handle := BuildLogLayer(directive, opts...)
	return layer, handle, buf
}

// decodeRecords parses one JSON record per line.
func decodeRecords(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("Failed to parse log line %q: %v", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read log output: %v", err)
	}
	return records
}

func zapLogger(layer *LogLayer) *zap.Logger {
	return zap.New(layer.Core())
}
