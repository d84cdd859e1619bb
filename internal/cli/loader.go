package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/ir"
)

// Error codes for failures that are not engine errors.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeNotFound = "E005" // Path not found
	ErrCodeCompile  = "E006" // CUE file does not parse or compile
	ErrCodeNoFiles  = "E003" // No CUE files found
	ErrCodeParam    = "E010" // Malformed --param
	ErrCodeData     = "E011" // Malformed import data
	ErrCodeTest     = "E020" // Scenario failures
)

// LoadedFile is one compiled .cue file.
type LoadedFile struct {
	Path string
	*compiler.File
}

// LoadCUE loads a .cue file, or every .cue file below a directory in
// lexical order.
func LoadCUE(path string) ([]LoadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("path not found: %s", path))
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "error scanning directory", err)
		}
		if len(files) == 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no CUE files found in %s", path))
		}
	}

	out := make([]LoadedFile, 0, len(files))
	for _, f := range files {
		loaded, err := compiler.LoadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, LoadedFile{Path: f, File: loaded})
	}
	return out, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// ParseParams parses name=value pairs. A value that reads as a JSON
// scalar (1, 2.5, true, null, "x") takes that type; anything else is a
// string.
func ParseParams(pairs []string) (map[string]ir.Value, error) {
	params := make(map[string]ir.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", pair)
		}
		if _, dup := params[name]; dup {
			return nil, fmt.Errorf("parameter %q given twice", name)
		}
		v, err := ir.ParseValue([]byte(raw))
		if err != nil {
			v = ir.String(raw)
		}
		params[name] = v
	}
	return params, nil
}
