package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deduce/internal/ir"
)

// Scenario is one conformance test.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Schema is a CUE file declaring the stored relations.
	Schema string `yaml:"schema,omitempty"`

	// Data seeds stored relations before the first step, in one commit.
	Data map[string]Rows `yaml:"data,omitempty"`

	// Steps run in order against the same database.
	Steps []Step `yaml:"steps"`

	// Assertions check stored relations after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Rows is a headed block of rows in YAML form.
type Rows struct {
	Headers []string `yaml:"headers"`
	Rows    [][]any  `yaml:"rows"`
}

// Step runs one program or script, or compacts the store.
type Step struct {
	Name string `yaml:"name"`

	// Program is a CUE file holding rules or a script.
	Program string `yaml:"program,omitempty"`

	// Source is inline CUE, used when Program is empty.
	Source string `yaml:"source,omitempty"`

	// Compact runs compaction instead of a program.
	Compact bool `yaml:"compact,omitempty"`

	Params map[string]any `yaml:"params,omitempty"`

	// Expect states the result rows. Omit it to only require success.
	Expect *Rows `yaml:"expect,omitempty"`

	// Error states the expected failure instead.
	Error *ExpectError `yaml:"error,omitempty"`
}

// ExpectError matches an engine error by kind and, optionally, code.
type ExpectError struct {
	Kind string `yaml:"kind"`
	Code string `yaml:"code,omitempty"`
}

// Assertion checks one stored relation after the last step.
type Assertion struct {
	// Type is relation_rows or relation_count.
	Type     string  `yaml:"type"`
	Relation string  `yaml:"relation"`
	Rows     [][]any `yaml:"rows,omitempty"`
	Count    int     `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRelationRows  = "relation_rows"
	AssertRelationCount = "relation_count"
)

// LoadScenario reads a scenario file, rejecting unknown fields, and
// resolves its file references relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Schema = resolve(base, scenario.Schema)
	for i := range scenario.Steps {
		scenario.Steps[i].Program = resolve(base, scenario.Steps[i].Program)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks required fields and file references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Schema != "" {
		if _, err := os.Stat(s.Schema); err != nil {
			return fmt.Errorf("schema file not found: %s", s.Schema)
		}
	}
	for name, rows := range s.Data {
		for i, row := range rows.Rows {
			if len(row) != len(rows.Headers) {
				return fmt.Errorf("data.%s.rows[%d]: %d values for %d headers", name, i, len(row), len(rows.Headers))
			}
		}
	}

	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		sources := 0
		for _, set := range []bool{step.Program != "", step.Source != "", step.Compact} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return fmt.Errorf("steps[%d]: exactly one of program, source or compact is required", i)
		}
		if step.Program != "" {
			if _, err := os.Stat(step.Program); err != nil {
				return fmt.Errorf("steps[%d]: program file not found: %s", i, step.Program)
			}
		}
		if step.Expect != nil && step.Error != nil {
			return fmt.Errorf("steps[%d]: expect and error are exclusive", i)
		}
		if step.Error != nil && step.Error.Kind == "" {
			return fmt.Errorf("steps[%d].error: kind is required", i)
		}
	}

	for i, a := range s.Assertions {
		if a.Relation == "" {
			return fmt.Errorf("assertions[%d]: relation is required", i)
		}
		switch a.Type {
		case AssertRelationRows:
		case AssertRelationCount:
			if a.Count < 0 {
				return fmt.Errorf("assertions[%d]: count must be non-negative", i)
			}
		case "":
			return fmt.Errorf("assertions[%d]: type is required", i)
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}
	return nil
}

// toTuples converts YAML rows to tuples.
func toTuples(rows [][]any) ([]ir.Tuple, error) {
	out := make([]ir.Tuple, len(rows))
	for i, row := range rows {
		t := make(ir.Tuple, len(row))
		for j, v := range row {
			val, err := ir.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			t[j] = val
		}
		out[i] = t
	}
	return out, nil
}

// toParams converts YAML parameter values.
func toParams(params map[string]any) (map[string]ir.Value, error) {
	out := make(map[string]ir.Value, len(params))
	for k, v := range params {
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
