package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLogLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("nonexistent.yaml")
	if err != nil {
		t.Fatalf("LoadConfig returned error for missing file: %v", err)
	}

	if config.Level != "INFO" {
		t.Errorf("Default level = %q, want %q", config.Level, "INFO")
	}
	if !config.ConsoleEnabled {
		t.Error("Default ConsoleEnabled = false, want true")
	}
	if config.FileEnabled {
		t.Error("Default FileEnabled = true, want false")
	}
	if config.FilePath != "logs/termux-bridge.log" {
		t.Errorf("Default FilePath = %q, want %q", config.FilePath, "logs/termux-bridge.log")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logging.yaml")
	content := `logging:
  level: DEBUG
  console_format: json
  file_enabled: true
  file_path: bridge.log
  file_max_size_mb: 20
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "DEBUG" {
		t.Errorf("Level = %q, want %q", config.Level, "DEBUG")
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want %q", config.ConsoleFormat, "json")
	}
	// console_enabled was omitted, so the default must survive
	if !config.ConsoleEnabled {
		t.Error("ConsoleEnabled = false, want default true")
	}
	if !config.FileEnabled {
		t.Error("FileEnabled = false, want true")
	}
	if config.FilePath != "bridge.log" {
		t.Errorf("FilePath = %q, want %q", config.FilePath, "bridge.log")
	}
	if config.FileMaxSizeMB != 20 {
		t.Errorf("FileMaxSizeMB = %d, want %d", config.FileMaxSizeMB, 20)
	}
	if config.FileMaxBackups != 5 {
		t.Errorf("FileMaxBackups = %d, want default 5", config.FileMaxBackups)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logging.yaml")
	if err := os.WriteFile(path, []byte("logging: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if config.Level != "INFO" {
		t.Errorf("expected defaults on parse error, got level %q", config.Level)
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("LOG_CONSOLE_FORMAT", "json")
	t.Setenv("LOG_FILE_ENABLED", "true")
	t.Setenv("LOG_FILE_PATH", "/custom/path.log")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "ERROR" {
		t.Errorf("Level = %q, want %q (from env var)", config.Level, "ERROR")
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want %q (from env var)", config.ConsoleFormat, "json")
	}
	if !config.FileEnabled {
		t.Error("FileEnabled = false, want true (from env var)")
	}
	if config.FilePath != "/custom/path.log" {
		t.Errorf("FilePath = %q, want %q (from env var)", config.FilePath, "/custom/path.log")
	}
}

func TestSetOutputFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelInfo)

	Info("Test message", "key", "value")
	Debug("This should not appear")

	output := buf.String()
	if !strings.Contains(output, "Test message") {
		t.Errorf("Output missing INFO message: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Output missing structured field: %s", output)
	}
	if strings.Contains(output, "This should not appear") {
		t.Errorf("Output contains DEBUG message when level is INFO: %s", output)
	}
}

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelDebug)

	Component("api").Debug("Sending request", "method", "Location")

	output := buf.String()
	if !strings.Contains(output, "component=api") {
		t.Errorf("Output missing component attribute: %s", output)
	}
	if !strings.Contains(output, "method=Location") {
		t.Errorf("Output missing method attribute: %s", output)
	}
}

func TestComponentBeforeInitializeDiscards(t *testing.T) {
	mu.Lock()
	saved := logger
	logger = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		logger = saved
		mu.Unlock()
	}()

	// Must not panic
	Component("api").Info("dropped")
	Info("dropped too")
}

func TestFormattedLogging(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelDebug)

	Debugf("Debug: %d + %d = %d", 1, 2, 3)
	Infof("Info: %s", "test")
	Warningf("Warning: %.2f%%", 99.95)
	Errorf("Error: %v", "failed")

	output := buf.String()
	for _, want := range []string{"Debug: 1 + 2 = 3", "Info: test", "Warning: 99.95%", "Error: failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestInitializeWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	config := DefaultConfig()
	config.ConsoleEnabled = false
	config.FileEnabled = true
	config.FilePath = path
	config.FileFormat = "json"

	if err := Initialize(config); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Info("file record", "field", 42)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"file record"`) {
		t.Errorf("log file missing record: %s", data)
	}
	if !strings.Contains(string(data), `"field":42`) {
		t.Errorf("log file missing numeric field: %s", data)
	}
}

func TestInitializeRejectsFileWithoutPath(t *testing.T) {
	config := DefaultConfig()
	config.FileEnabled = true
	config.FilePath = ""

	if err := Initialize(config); err == nil {
		t.Error("expected error for file logging without a path")
	}
}

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	l := slog.New(h).With("component", "rpc")

	l.Debug("only first")
	l.Warn("both")

	if !strings.Contains(a.String(), "only first") || !strings.Contains(a.String(), "both") {
		t.Errorf("first handler missing records: %s", a.String())
	}
	if strings.Contains(b.String(), "only first") {
		t.Errorf("second handler received record below its level: %s", b.String())
	}
	if !strings.Contains(b.String(), "component=rpc") {
		t.Errorf("second handler missing attrs: %s", b.String())
	}
}
