package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// MockParameterApplier 模拟参数应用器
type MockParameterApplier struct {
	applied map[string]interface{}
}

func NewMockParameterApplier() *MockParameterApplier {
	return &MockParameterApplier{
		applied: make(map[string]interface{}),
	}
}

func (m *MockParameterApplier) ApplyParameters(params map[string]interface{}) error {
	for k, v := range params {
		m.applied[k] = v
	}
	return nil
}

func (m *MockParameterApplier) GetApplied(key string) interface{} {
	return m.applied[key]
}

func TestHotReloader_New(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// 创建临时配置文件
	if err := os.WriteFile(configPath, []byte("test: value"), 0644); err != nil {
		t.Fatalf("Failed to create temp config: %v", err)
	}

	cfg := DefaultHotReloadConfig()
	reloader, err := NewHotReloader(configPath, cfg)
	if err != nil {
		t.Fatalf("Failed to create hot reloader: %v", err)
	}
	defer reloader.Stop()

	if reloader == nil {
		t.Fatal("Reloader is nil")
	}

	if reloader.configPath != configPath {
		t.Errorf("Expected config path %s, got %s", configPath, reloader.configPath)
	}
}

func TestHotReloader_RegisterValidator(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("test: value"), 0644)

	cfg := DefaultHotReloadConfig()
	reloader, _ := NewHotReloader(configPath, cfg)
	defer reloader.Stop()

	validator := &LogParameterValidator{}
	reloader.RegisterValidator("log", validator)

	// 验证注册成功
	if len(reloader.validators) != 1 {
		t.Errorf("Expected 1 validator, got %d", len(reloader.validators))
	}
}

func TestHotReloader_RegisterApplier(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("test: value"), 0644)

	cfg := DefaultHotReloadConfig()
	reloader, _ := NewHotReloader(configPath, cfg)
	defer reloader.Stop()

	applier := NewMockParameterApplier()
	reloader.RegisterApplier("log", applier)

	// 验证注册成功
	if len(reloader.appliers) != 1 {
		t.Errorf("Expected 1 applier, got %d", len(reloader.appliers))
	}
}

func TestHotReloader_ValidateAndApply(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("test: value"), 0644)

	cfg := DefaultHotReloadConfig()
	reloader, _ := NewHotReloader(configPath, cfg)
	defer reloader.Stop()

	// 注册验证器和应用器
	validator := &LogParameterValidator{}
	applier := NewMockParameterApplier()

	reloader.RegisterValidator("log", validator)
	reloader.RegisterApplier("log", applier)

	// 测试有效参数
	validParams := map[string]interface{}{
		"level":  "debug",
		"format": "json",
	}

	err := reloader.ApplyParameters("log", validParams)
	if err != nil {
		t.Errorf("Failed to apply valid parameters: %v", err)
	}

	// 验证参数已应用
	if applier.GetApplied("level") != "debug" {
		t.Error("Parameters not applied correctly")
	}
}

func TestHotReloader_StartStop(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("test: value"), 0644)

	cfg := DefaultHotReloadConfig()
	reloader, _ := NewHotReloader(configPath, cfg)

	ctx := context.Background()

	// 启动
	err := reloader.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start reloader: %v", err)
	}

	// 等待一段时间
	time.Sleep(100 * time.Millisecond)

	// 停止
	err = reloader.Stop()
	if err != nil {
		t.Errorf("Failed to stop reloader: %v", err)
	}
}

func TestLogParameterValidator_Valid(t *testing.T) {
	validator := &LogParameterValidator{}

	testCases := []struct {
		name   string
		params map[string]interface{}
	}{
		{
			name: "Valid parameters",
			params: map[string]interface{}{
				"level":  "info",
				"format": "json",
			},
		},
		{
			name: "Console format",
			params: map[string]interface{}{
				"level":  "debug",
				"format": "console",
			},
		},
		{
			name: "Error level only",
			params: map[string]interface{}{
				"level": "error",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate(tc.params)
			if err != nil {
				t.Errorf("Expected valid parameters but got error: %v", err)
			}
		})
	}
}

func TestLogParameterValidator_Invalid(t *testing.T) {
	validator := &LogParameterValidator{}

	testCases := []struct {
		name   string
		params map[string]interface{}
	}{
		{
			name: "Unknown level",
			params: map[string]interface{}{
				"level": "verbose",
			},
		},
		{
			name: "Unknown format",
			params: map[string]interface{}{
				"format": "xml",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate(tc.params)
			if err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}

func TestServerParameterValidator_Valid(t *testing.T) {
	validator := &ServerParameterValidator{}

	validParams := map[string]interface{}{
		"queue_size":       256,
		"write_timeout_ms": 5000,
		"ping_interval_ms": 30000,
	}

	err := validator.Validate(validParams)
	if err != nil {
		t.Errorf("Expected valid parameters but got error: %v", err)
	}
}

func TestServerParameterValidator_Invalid(t *testing.T) {
	validator := &ServerParameterValidator{}

	testCases := []struct {
		name   string
		params map[string]interface{}
	}{
		{
			name: "Invalid queue_size (zero)",
			params: map[string]interface{}{
				"queue_size": 0,
			},
		},
		{
			name: "Invalid queue_size (too large)",
			params: map[string]interface{}{
				"queue_size": 100000,
			},
		},
		{
			name: "Invalid write_timeout_ms (negative)",
			params: map[string]interface{}{
				"write_timeout_ms": -1,
			},
		},
		{
			name: "Invalid ping_interval_ms (zero)",
			params: map[string]interface{}{
				"ping_interval_ms": 0,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate(tc.params)
			if err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}

func TestAlertParameterValidator_Valid(t *testing.T) {
	validator := &AlertParameterValidator{}

	validParams := map[string]interface{}{
		"throttle_interval": "5m",
	}

	err := validator.Validate(validParams)
	if err != nil {
		t.Errorf("Expected valid parameters but got error: %v", err)
	}
}

func TestAlertParameterValidator_Invalid(t *testing.T) {
	validator := &AlertParameterValidator{}

	invalidParams := map[string]interface{}{
		"throttle_interval": "invalid",
	}

	err := validator.Validate(invalidParams)
	if err == nil {
		t.Error("Expected validation error but got none")
	}
}

func TestHotReloader_GetLastReloadTime(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("test: value"), 0644)

	cfg := DefaultHotReloadConfig()
	reloader, _ := NewHotReloader(configPath, cfg)
	defer reloader.Stop()

	// 初始时间应该是零值
	lastTime := reloader.GetLastReloadTime()
	if !lastTime.IsZero() {
		t.Error("Expected zero time for last reload")
	}
}
