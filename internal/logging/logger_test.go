package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// resetState clears package state so each test initializes from scratch.
func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeTestConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".formcoach")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog tests that all categories create log files when logging is enabled
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: true
  level: debug
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsEnabled() {
		t.Error("Expected logging to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategorySession,
		CategoryServer,
		CategoryDialogue,
		CategoryPlanner,
		CategoryOrchestrator,
		CategoryStage,
		CategoryPerception,
		CategoryResearch,
		CategoryEmbedding,
		CategoryStore,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	// Also test convenience functions
	Boot("Convenience boot log")
	Session("Convenience session log")
	Server("Convenience server log")
	Dialogue("Convenience dialogue log")
	Planner("Convenience planner log")
	Orchestrator("Convenience orchestrator log")
	Stage("Convenience stage log")
	Perception("Convenience perception log")
	Research("Convenience research log")
	Embedding("Convenience embedding log")
	Store("Convenience store log")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".formcoach", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("Failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("Log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestLoggingDisabled tests that no logs are created when logging is off
func TestLoggingDisabled(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: false
  level: debug
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsEnabled() {
		t.Error("Expected logging to be DISABLED")
	}

	for _, cat := range []Category{CategoryBoot, CategoryDialogue, CategoryStore} {
		if IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be DISABLED when logging is off", cat)
		}
	}

	// Should be no-ops
	Boot("This should NOT be logged")
	Dialogue("This should NOT be logged")

	logger := Get(CategoryBoot)
	logger.Info("This should NOT be logged")
	logger.Error("This should NOT be logged")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".formcoach", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("Expected no log files when disabled, found %d", len(entries))
		}
	}
}

// TestCategoryToggle tests individual category enable/disable
func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: true
  level: debug
  categories:
    boot: true
    dialogue: true
    store: false
    perception: false
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryDialogue) {
		t.Error("dialogue should be enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store should be DISABLED")
	}
	if IsCategoryEnabled(CategoryPerception) {
		t.Error("perception should be DISABLED")
	}

	// Category absent from config defaults to enabled
	if !IsCategoryEnabled(CategoryPlanner) {
		t.Error("planner (not in config) should default to enabled")
	}

	Boot("This SHOULD be logged")
	Dialogue("This SHOULD be logged")
	Store("This should NOT be logged")
	Perception("This should NOT be logged")
	Planner("This SHOULD be logged (default enabled)")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".formcoach", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasBoot, hasDialogue, hasStore, hasPerception bool
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, "boot") {
			hasBoot = true
		}
		if strings.Contains(name, "dialogue") {
			hasDialogue = true
		}
		if strings.Contains(name, "store") {
			hasStore = true
		}
		if strings.Contains(name, "perception") {
			hasPerception = true
		}
	}

	if !hasBoot {
		t.Error("Expected boot log file")
	}
	if !hasDialogue {
		t.Error("Expected dialogue log file")
	}
	if hasStore {
		t.Error("Should NOT have store log file (disabled)")
	}
	if hasPerception {
		t.Error("Should NOT have perception log file (disabled)")
	}
}

// TestLevelFiltering tests that messages below the configured level are dropped
func TestLevelFiltering(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: true
  level: warn
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	logger := Get(CategoryOrchestrator)
	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".formcoach", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	for _, e := range entries {
		if !strings.Contains(e.Name(), "orchestrator") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(logsPath, e.Name()))
		if err != nil {
			t.Fatalf("Failed to read log: %v", err)
		}
		text := string(content)
		if strings.Contains(text, "dropped debug") || strings.Contains(text, "dropped info") {
			t.Error("Messages below warn level should be dropped")
		}
		if !strings.Contains(text, "kept warn") || !strings.Contains(text, "kept error") {
			t.Error("Warn and error messages should be kept")
		}
	}
}

// TestRequestLogger tests request-scoped correlation logging
func TestRequestLogger(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: true
  level: debug
`)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	rl := WithRequestID(CategorySession, "req-123").WithField("conversation", "c-9")
	rl.Info("handling message")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".formcoach", "logs")
	entries, _ := os.ReadDir(logsPath)

	found := false
	for _, e := range entries {
		if !strings.Contains(e.Name(), "session") {
			continue
		}
		content, _ := os.ReadFile(filepath.Join(logsPath, e.Name()))
		if strings.Contains(string(content), "req:req-123") {
			found = true
		}
	}
	if !found {
		t.Error("Expected request ID in session log")
	}
}

// TestTimerLogging tests the timing helper
func TestTimerLogging(t *testing.T) {
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  enabled: true
  level: debug
`)

	resetState()
	Initialize(tempDir)

	timer := StartTimer(CategoryStage, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()

	if elapsed <= 0 {
		t.Error("Timer should have recorded non-zero duration")
	}

	CloseAll()
}
