package detector

import "testing"

func TestMaxWorkgroupLength(t *testing.T) {
	tests := []struct {
		name     string
		limits   Limits
		expected int
	}{
		{"webgpu defaults", Limits{MaxComputeInvocationsPerWorkgroup: 256, MaxComputeWorkgroupSizeX: 256, MaxComputeWorkgroupStorageSize: 16384}, 256},
		{"invocations bound", Limits{MaxComputeInvocationsPerWorkgroup: 128, MaxComputeWorkgroupSizeX: 1024}, 128},
		{"size bound", Limits{MaxComputeInvocationsPerWorkgroup: 1024, MaxComputeWorkgroupSizeX: 64}, 64},
		{"storage bound", Limits{MaxComputeInvocationsPerWorkgroup: 1024, MaxComputeWorkgroupSizeX: 1024, MaxComputeWorkgroupStorageSize: 4096}, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limits.MaxWorkgroupLength(); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestChooseWorkgroup(t *testing.T) {
	l := Limits{MaxComputeInvocationsPerWorkgroup: 200, MaxComputeWorkgroupSizeX: 1024}
	if got := chooseWorkgroup(l); got != 128 {
		t.Errorf("Expected 128, got %d", got)
	}
	if got := chooseWorkgroup(Limits{MaxComputeInvocationsPerWorkgroup: 1, MaxComputeWorkgroupSizeX: 1}); got != 1 {
		t.Errorf("Expected fallback 1, got %d", got)
	}
}

func TestBudgetBytes(t *testing.T) {
	t.Setenv(BudgetEnv, "64")
	if got := budgetBytes(); got != 64*1024*1024 {
		t.Errorf("Expected 64 MiB, got %d", got)
	}
	if env := pickEnv([]string{BudgetEnv}); env[BudgetEnv] != "64" {
		t.Errorf("Expected env to be reported, got %v", env)
	}
	t.Setenv(BudgetEnv, "nope")
	if got := budgetBytes(); got != 128*1024*1024 {
		t.Errorf("Expected default 128 MiB, got %d", got)
	}
}
