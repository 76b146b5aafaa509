package gpu

import (
	"errors"
	"strings"
	"testing"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/prefixscan/scan"
)

func TestScopeError(t *testing.T) {
	if err := scopeError(wgpu.ErrorTypeNoError, ""); err != nil {
		t.Errorf("Expected nil for an empty scope, got %v", err)
	}
	err := scopeError(wgpu.ErrorTypeValidation, "binding 2 is not a storage buffer")
	if !errors.Is(err, scan.ErrDevice) {
		t.Errorf("Expected ErrDevice, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "binding 2 is not a storage buffer") {
		t.Errorf("Expected the device message in %v", err)
	}
	if err := scopeError(wgpu.ErrorTypeOutOfMemory, "oom"); !errors.Is(err, scan.ErrDevice) {
		t.Errorf("Expected ErrDevice for out of memory, got %v", err)
	}
}
