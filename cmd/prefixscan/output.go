package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	headerColor = color.New(color.Bold)
	scanColor   = color.New(color.FgCyan)
	applyColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

// writeStructured prints v as json or yaml. It returns false for text output
// so the caller can render its own view.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, errors.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, errors.Wrap(err, "encode yaml")
		}
		return true, errors.Wrap(enc.Close(), "encode yaml")
	default:
		return false, nil
	}
}

// readValues returns args, or the whitespace separated fields of path when
// args is empty. A path of "-" reads stdin.
func readValues(args []string, path string, stdin io.Reader) ([]string, error) {
	if path == "" {
		return args, nil
	}
	if len(args) > 0 {
		return nil, errors.New("values given both as arguments and with --input")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return strings.Fields(string(data)), nil
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}
