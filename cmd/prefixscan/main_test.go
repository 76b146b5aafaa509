package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/prefixscan/scan"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunInclusive(t *testing.T) {
	out, err := execute(t, "", "run", "1", "2", "3", "4", "5", "6", "7", "8", "-L", "4")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "1 3 6 10 15 21 28 36\n" {
		t.Errorf("Expected inclusive sums, got %q", out)
	}
}

func TestRunExclusiveSeededJSON(t *testing.T) {
	out, err := execute(t, "", "run", "1", "2", "3", "4", "5", "6", "7", "8",
		"-L", "4", "--exclusive", "--initial", "100", "-o", "json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res struct {
		Template  string    `json:"template"`
		Exclusive bool      `json:"exclusive"`
		Levels    []int     `json:"levels"`
		Values    []float64 `json:"values"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	expected := []float64{100, 101, 103, 106, 110, 115, 121, 128}
	if len(res.Values) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, res.Values)
	}
	for i := range expected {
		if res.Values[i] != expected[i] {
			t.Errorf("values[%d]: Expected %v, got %v", i, expected[i], res.Values[i])
		}
	}
	if res.Template != "sum-u32" || !res.Exclusive {
		t.Errorf("Expected exclusive sum-u32, got %+v", res)
	}
	if len(res.Levels) != 2 || res.Levels[0] != 8 || res.Levels[1] != 2 {
		t.Errorf("Expected levels [8 2], got %v", res.Levels)
	}
}

func TestRunStdinFloat(t *testing.T) {
	out, err := execute(t, "0.5 1.5\n2\n", "run", "-t", "maxf", "--input", "-")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "0.5 1.5 2\n" {
		t.Errorf("Expected running max, got %q", out)
	}
}

func TestRunExpr(t *testing.T) {
	out, err := execute(t, "", "run", "3", "1", "4", "1", "5", "-L", "2",
		"--template", "expr", "--expr", "a > b ? a : b")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "3 3 4 4 5\n" {
		t.Errorf("Expected running max, got %q", out)
	}
}

func TestRunErrors(t *testing.T) {
	if _, err := execute(t, "", "run", "1", "--template", "median"); err == nil {
		t.Errorf("Expected an unknown template error")
	}
	if _, err := execute(t, "", "run", "x"); err == nil {
		t.Errorf("Expected a parse error")
	}
	if _, err := execute(t, "", "run", "1", "2", "3", "-L", "1"); !errors.Is(err, scan.ErrCapacity) {
		t.Errorf("Expected ErrCapacity, got %v", err)
	}
	if _, err := execute(t, "", "run", "1", "--input", "-"); err == nil {
		t.Errorf("Expected an error for arguments mixed with --input")
	}
}

func TestDescribeYAML(t *testing.T) {
	out, err := execute(t, "", "describe", "--length", "64", "-L", "4", "--label", "d", "-o", "yaml")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var info scan.GraphInfo
	if err := yaml.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Levels != 3 {
		t.Errorf("Expected 3 levels, got %d", info.Levels)
	}
	if len(info.Stages) != 5 {
		t.Fatalf("Expected 5 stages, got %d", len(info.Stages))
	}
	if info.Stages[0].Label != "d_L0_BlockScan" || info.Stages[4].Label != "d_L0_ApplyBlock" {
		t.Errorf("Unexpected stage order: %+v", info.Stages)
	}
	if info.Result != "d_L0_ApplyBlock_Result" {
		t.Errorf("Expected result d_L0_ApplyBlock_Result, got %s", info.Result)
	}
}

func TestDescribeText(t *testing.T) {
	out, err := execute(t, "", "describe", "--length", "3", "-L", "4", "--label", "one")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{"3 elements", "1 level(s)", "one_L0_BlockScan", "result: one_L0_BlockScan_PrefixScan"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q\n%s", want, out)
		}
	}
	empty, err := execute(t, "", "describe", "--length", "0")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !strings.Contains(empty, "empty graph") {
		t.Errorf("Expected an empty graph, got %q", empty)
	}
}

func TestReduce(t *testing.T) {
	for _, tt := range []struct {
		args     []string
		expected string
	}{
		{[]string{"reduce", "3", "9", "2", "--kind", "max"}, "9\n"},
		{[]string{"reduce", "3", "9", "2", "--kind", "min", "-L", "2"}, "2\n"},
		{[]string{"reduce", "1", "2", "3", "4", "--host"}, "10\n"},
		{[]string{"reduce"}, "0\n"},
	} {
		out, err := execute(t, "", tt.args...)
		if err != nil {
			t.Errorf("%v: %v", tt.args, err)
			continue
		}
		if out != tt.expected {
			t.Errorf("%v: Expected %q, got %q", tt.args, tt.expected, out)
		}
	}
	if _, err := execute(t, "", "reduce", "1", "--kind", "mean"); err == nil {
		t.Errorf("Expected an unknown kind error")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/prefixscan.yaml"
	if err := os.WriteFile(path, []byte("block-length: 2\nexclusive: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "", "run", "5", "5", "5", "--config", path, "-o", "json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res runResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.Exclusive || res.Workgroup != 2 {
		t.Errorf("Expected config file values, got %+v", res)
	}
	if got := joinValues(res.Values); got != "0 5 10" {
		t.Errorf("Expected 0 5 10, got %s", got)
	}
}

func TestEnvOnlyTouchesExecutedRoot(t *testing.T) {
	t.Setenv("PREFIXSCAN_BLOCK_LENGTH", "2")
	idle := newRootCommand()

	out, err := execute(t, "", "run", "1", "2", "3", "-o", "json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res runResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Workgroup != 2 {
		t.Errorf("Expected the environment block length 2, got %d", res.Workgroup)
	}
	if got := idle.PersistentFlags().Lookup("block-length").Value.String(); got != "0" {
		t.Errorf("Expected a root that never ran to keep its default, got %s", got)
	}
}
