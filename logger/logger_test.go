package logger

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset global logger
			Logger = nil
			JSONOutput = false

			if err := Initialize(tt.jsonOutput); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}

			if Logger == nil {
				t.Error("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("Initialize() JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}

			// Cleanup
			if Logger != nil {
				Logger.Sync()
				Logger = nil
			}
		})
	}
}

func TestPackageWrappersNilSafe(t *testing.T) {
	// Wrappers must not panic when the global logger is nil
	Logger = nil
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("package wrappers panicked with nil Logger: %v", r)
		}
		Logger = zap.NewNop().Sugar()
	}()

	Info("info")
	Infof("info %d", 1)
	Infow("info", "key", "value")
	Warn("warn")
	Warnw("warn", "key", "value")
	Error("error")
	Errorw("error", "key", "value")
	Debug("debug")
	Debugw("debug", "key", "value")
	Cleanup()
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
	}{
		{0, zapcore.WarnLevel},
		{1, zapcore.InfoLevel},
		{2, zapcore.DebugLevel},
		{3, zapcore.DebugLevel},
		{4, zapcore.DebugLevel},
		{9, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		if got := VerbosityToLevel(tt.verbosity); got != tt.want {
			t.Errorf("VerbosityToLevel(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestShouldOutput(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		category  OutputCategory
		want      bool
	}{
		{"results always shown", 0, OutputResults, true},
		{"errors always shown", 0, OutputErrors, true},
		{"sweep summary hidden at 0", 0, OutputSweepSummary, false},
		{"sweep summary shown at 1", 1, OutputSweepSummary, true},
		{"timing hidden at 1", 1, OutputTiming, false},
		{"timing shown at 2", 2, OutputTiming, true},
		{"sql hidden at 2", 2, OutputSQLQueries, false},
		{"sql shown at 3", 3, OutputSQLQueries, true},
		{"data dump only at 4", 3, OutputDataDump, false},
		{"data dump shown at 4", 4, OutputDataDump, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldOutput(tt.verbosity, tt.category); got != tt.want {
				t.Errorf("ShouldOutput(%d, %v) = %v, want %v", tt.verbosity, tt.category, got, tt.want)
			}
		})
	}
}

func TestFieldsFromContext(t *testing.T) {
	ctx := context.Background()
	if fields := FieldsFromContext(ctx); len(fields) != 0 {
		t.Errorf("expected no fields from empty context, got %v", fields)
	}

	ctx = WithTenantID(ctx, "tn_1")
	ctx = WithRequestID(ctx, "req_7")
	ctx = WithComponent(ctx, "rota.runner")

	fields := FieldsFromContext(ctx)
	if len(fields) != 6 {
		t.Fatalf("expected 6 field elements, got %d: %v", len(fields), fields)
	}

	got := map[string]string{}
	for i := 0; i < len(fields); i += 2 {
		got[fields[i].(string)] = fields[i+1].(string)
	}
	if got[FieldTenantID] != "tn_1" {
		t.Errorf("tenant_id = %q, want tn_1", got[FieldTenantID])
	}
	if got[FieldRequestID] != "req_7" {
		t.Errorf("request_id = %q, want req_7", got[FieldRequestID])
	}
	if got[FieldComponent] != "rota.runner" {
		t.Errorf("component = %q, want rota.runner", got[FieldComponent])
	}
}

func TestAbbreviateName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"server", "server"},
		{"rota.runner", "r.runner"},
		{"rota.outbox.worker", "r.outbox.worker"},
	}

	for _, tt := range tests {
		if got := abbreviateName(tt.in); got != tt.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetTheme(t *testing.T) {
	orig := currentTheme
	defer SetTheme(orig)

	SetTheme("gruvbox")
	if currentTheme != "gruvbox" {
		t.Errorf("theme = %q, want gruvbox", currentTheme)
	}

	SetTheme("unknown-theme")
	if currentTheme != "gruvbox" {
		t.Errorf("unknown theme must not change current, got %q", currentTheme)
	}

	SetTheme("everforest")
	if currentTheme != "everforest" {
		t.Errorf("theme = %q, want everforest", currentTheme)
	}
}

func TestColorizeMessageBrackets(t *testing.T) {
	out := colorizeMessage("[sweep] advancing [tpl:rt_9f2c]")

	if !strings.Contains(out, "[sweep]") {
		t.Errorf("stage marker lost in colorized output: %q", out)
	}
	if !strings.Contains(out, "[tpl:rt_9f2c]") {
		t.Errorf("entity reference lost in colorized output: %q", out)
	}
	if !strings.Contains(out, colorReset) {
		t.Errorf("expected ANSI reset codes in output: %q", out)
	}
}

func TestExtractFieldValuesSweepStats(t *testing.T) {
	fields := []zapcore.Field{
		zap.String(FieldTemplateID, "rt_9f2c"),
		zap.Int(FieldGenerated, 3),
		zap.Int("errors", 1),
	}

	out := extractFieldValues(fields)
	if !strings.Contains(out, "rt_9f2c") {
		t.Errorf("template id missing from %q", out)
	}
	if !strings.Contains(out, "3") || !strings.Contains(out, "generated") {
		t.Errorf("generated count missing from %q", out)
	}
	if !strings.Contains(out, "1") || !strings.Contains(out, "errors") {
		t.Errorf("error count missing from %q", out)
	}
}

func TestComponentLogger(t *testing.T) {
	Logger = zap.NewNop().Sugar()

	l := ComponentLogger("rota.ticker")
	if l == nil {
		t.Fatal("ComponentLogger returned nil")
	}

	child := ChildLogger(l, FieldTemplateID, "rt_1")
	if child == nil {
		t.Fatal("ChildLogger returned nil")
	}
}
