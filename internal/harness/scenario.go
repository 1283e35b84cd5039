// Package harness runs declarative YAML scenarios against a full engine:
// a configuration document, a synthesized SQLite schema, seeded rows, a
// sequence of requests with expectations, and final-state assertions.
// Golden snapshots of the step outcomes guard against behavior drift.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario (also the golden file name).
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Config is the path to the CUE configuration document, relative to
	// the scenario file.
	Config string `yaml:"config"`

	// Seed lists rows inserted before the flow runs.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Steps is the request flow with per-step expectations.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store state.
	Assertions []StateAssertion `yaml:"assertions,omitempty"`
}

// SeedRow is one pre-inserted record.
type SeedRow struct {
	Table string         `yaml:"table"`
	Row   map[string]any `yaml:"row"`
}

// Step is one dispatched request plus its expectation.
type Step struct {
	Request RequestSpec `yaml:"request"`

	// Expect validates the outcome. Nil means the step only has to
	// dispatch without an infrastructure error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// RequestSpec mirrors the engine request in YAML form.
type RequestSpec struct {
	Cmd    string         `yaml:"cmd"`
	Fields map[string]any `yaml:"fields,omitempty"`
	UID    int64          `yaml:"uid,omitempty"`

	// AuthCode is the presented token. The placeholders "@issue",
	// "@fixed" and "@tamper" make the harness compute a valid default
	// token, a valid one-click token for FixedKey, or a corrupted token.
	AuthCode string `yaml:"authcode,omitempty"`

	FixedKey  string `yaml:"fixedKey,omitempty"`
	Fetch     string `yaml:"fetch,omitempty"`
	Key       string `yaml:"key,omitempty"`
	Preview   bool   `yaml:"preview,omitempty"`
	DoNotSave bool   `yaml:"doNotSave,omitempty"`

	// User logs the request in as the user record with this id.
	User int64 `yaml:"user,omitempty"`
}

// Token placeholders understood in RequestSpec.AuthCode.
const (
	TokenIssue  = "@issue"
	TokenFixed  = "@fixed"
	TokenTamper = "@tamper"
)

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// View is the expected terminal view key.
	View string `yaml:"view"`

	// Saved asserts the mutation flag.
	Saved bool `yaml:"saved,omitempty"`

	// Failures lists the expected failing fields, in order. Empty means
	// no failures are asserted.
	Failures []string `yaml:"failures,omitempty"`
}

// StateAssertion queries the final store state.
type StateAssertion struct {
	Table string `yaml:"table"`

	// Where filters rows; all fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values of the first matching row.
	// Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count, when >= 0, is the expected number of matching rows. Use -1
	// to skip. Defaults to -1 when omitted via LoadScenario.
	Count int `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
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

	if !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if seed.Table == "" {
			return fmt.Errorf("seed[%d]: table is required", i)
		}
		if len(seed.Row) == 0 {
			return fmt.Errorf("seed[%d]: row is required", i)
		}
	}
	for i, step := range s.Steps {
		if step.Request.Cmd == "" {
			return fmt.Errorf("steps[%d]: request.cmd is required", i)
		}
		if step.Expect != nil && step.Expect.View == "" {
			return fmt.Errorf("steps[%d].expect: view is required", i)
		}
	}
	for i, a := range s.Assertions {
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required", i)
		}
		if len(a.Expect) == 0 && a.Count == 0 {
			return fmt.Errorf("assertions[%d]: expect or count is required", i)
		}
	}
	return nil
}
