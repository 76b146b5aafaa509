package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// BudgetEnv overrides the recommended buffer budget, in MiB.
const BudgetEnv = "PREFIXSCAN_BUDGET_MB"

/* ---------- public API ---------- */

// Report is a portable summary of the current adapter caps.
type Report struct {
	WhenISO     string            `json:"when_iso" yaml:"when_iso"`
	Runtime     string            `json:"runtime" yaml:"runtime"`
	Backend     string            `json:"backend" yaml:"backend"`
	AdapterType string            `json:"adapter_type" yaml:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex" yaml:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex" yaml:"device_id_hex"`
	Name        string            `json:"name" yaml:"name"`
	Driver      string            `json:"driver" yaml:"driver"`
	Recommended Recommendations   `json:"recommended" yaml:"recommended"`
	Limits      Limits            `json:"limits" yaml:"limits"`
	Features    []string          `json:"features" yaml:"features"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the default high-performance adapter and synthesizes a
// report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	return FromAdapter(adapter), nil
}

// FromAdapter builds a report for an adapter the caller already holds.
func FromAdapter(adapter *wgpu.Adapter) *Report {
	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, featureName(f))
	}

	l := Limits{
		MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
		MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.Limits.MaxBufferSize,
	}

	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     backendName(info.BackendType),
		AdapterType: adapterTypeName(info.AdapterType),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      l,
		Features:    feats,
		Recommended: Recommendations{
			WorkgroupLength: chooseWorkgroup(l),
			BudgetBytes:     budgetBytes(),
		},
		Env: pickEnv([]string{BudgetEnv}),
	}
}

/* ---------- helpers ---------- */

func budgetBytes() uint64 {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return budget
}

func featureName(f wgpu.FeatureName) string     { return f.String() }
func backendName(b wgpu.BackendType) string     { return b.String() }
func adapterTypeName(t wgpu.AdapterType) string { return t.String() }

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
