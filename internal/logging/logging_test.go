package logging

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		debug    string
		level    string
		expected LogLevel
	}{
		{
			name:     "Debug via LOG_LEVEL",
			level:    "debug",
			expected: LevelDebug,
		},
		{
			name:     "Info via LOG_LEVEL",
			level:    "info",
			expected: LevelInfo,
		},
		{
			name:     "Warn via LOG_LEVEL",
			level:    "warn",
			expected: LevelWarn,
		},
		{
			name:     "Warning alias",
			level:    "warning",
			expected: LevelWarn,
		},
		{
			name:     "Error via LOG_LEVEL",
			level:    "error",
			expected: LevelError,
		},
		{
			name:     "Case insensitive",
			level:    "DEBUG",
			expected: LevelDebug,
		},
		{
			name:     "Default is info",
			level:    "",
			expected: LevelInfo,
		},
		{
			name:     "Unknown value defaults to info",
			level:    "chatty",
			expected: LevelInfo,
		},
		{
			name:     "DEBUG env overrides LOG_LEVEL",
			debug:    "true",
			level:    "error",
			expected: LevelDebug,
		},
		{
			name:     "DEBUG=1 overrides",
			debug:    "1",
			level:    "warn",
			expected: LevelDebug,
		},
		{
			name:     "DEBUG=false does not override",
			debug:    "false",
			level:    "warn",
			expected: LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLevel(tt.debug, tt.level)
			if got != tt.expected {
				t.Errorf("parseLevel(%q, %q) = %v, want %v", tt.debug, tt.level, got, tt.expected)
			}
		})
	}
}

func TestLogLevelConstants(t *testing.T) {
	// Level comparisons drive the shouldLog checks, so ordering matters.
	levels := []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for i := 0; i < len(levels)-1; i++ {
		if levels[i] >= levels[i+1] {
			t.Errorf("Log levels should be in ascending order: %v >= %v", levels[i], levels[i+1])
		}
	}
}

func TestIsDebugEnabled(t *testing.T) {
	result := IsDebugEnabled()
	if result != (GetLevel() <= LevelDebug) {
		t.Error("IsDebugEnabled should agree with GetLevel")
	}
}

// TestLoggingFunctions tests that logging functions don't panic
func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "Debug doesn't panic",
			fn:   func() { Debug("test message") },
		},
		{
			name: "Info doesn't panic",
			fn:   func() { Info("test message") },
		},
		{
			name: "Warn doesn't panic",
			fn:   func() { Warn("test message") },
		},
		{
			name: "Error doesn't panic",
			fn:   func() { Error("test message") },
		},
		{
			name: "Debug with args doesn't panic",
			fn:   func() { Debug("test %s %d", "message", 123) },
		},
		{
			name: "Printf doesn't panic",
			fn:   func() { Printf("test %s %d", "message", 123) },
		},
		{
			name: "Println doesn't panic",
			fn:   func() { Println("test", "message", 123) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Function panicked: %v", r)
				}
			}()
			tt.fn()
		})
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.expected {
				t.Errorf("LogLevel.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
