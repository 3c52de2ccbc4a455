package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/trackload/internal/textgen"
)

//go:embed workload.schema.json
var workloadSchema string

// Workload describes a run: population, timing and the profile mix.
//
// Example YAML:
//
//	name: triage-soak
//	users: 20
//	rampUp: 2
//	duration: 10m
//	maxErrorRate: 0.05
//	thresholds:
//	  - p95 < 2s
//	profiles:
//	  - name: default
//	    weight: 3
//	  - name: readonly
//	    weight: 1
//	    pacing: {min: 2s, max: 4s}
//	  - name: no-comments
//	    base: default
//	    operations:
//	      AddNote: {enabled: false}
type Workload struct {
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
	Users        int           `json:"users,omitempty" yaml:"users,omitempty"`
	RampUp       float64       `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`
	Duration     Duration      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Cycles       int           `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Timeout      Duration      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	GracefulStop Duration      `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	MaxErrorRate *float64      `json:"maxErrorRate,omitempty" yaml:"maxErrorRate,omitempty"`
	Thresholds   []string      `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	TextLocale   string        `json:"textLocale,omitempty" yaml:"textLocale,omitempty"`
	Project      string        `json:"project,omitempty" yaml:"project,omitempty"`
	Profiles     []ProfileSpec `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// ProfileSpec selects or derives a behavior profile and its population share.
type ProfileSpec struct {
	Name       string                   `json:"name" yaml:"name"`
	Base       string                   `json:"base,omitempty" yaml:"base,omitempty"`
	Weight     int                      `json:"weight,omitempty" yaml:"weight,omitempty"`
	Pacing     *PacingSpec              `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Operations map[string]OperationSpec `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// PacingSpec is the wait range between cycles.
type PacingSpec struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// OperationSpec overrides one catalog entry. Nil fields keep the base value.
type OperationSpec struct {
	Weight  *int  `json:"weight,omitempty" yaml:"weight,omitempty"`
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// LoadWorkload reads, schema-checks and validates a workload file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}

	return ParseWorkload(data, path)
}

// ParseWorkload parses workload data. The format follows the extension of
// path and defaults to YAML.
func ParseWorkload(data []byte, path string) (*Workload, error) {
	doc, err := toJSONDocument(data, path)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var w Workload
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode workload: %w", err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// toJSONDocument normalises YAML or JSON input into JSON bytes so a single
// schema and decoder handle both.
func toJSONDocument(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		if !json.Valid(data) {
			return nil, errors.New("failed to parse JSON workload: invalid JSON")
		}
		return data, nil
	}

	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse YAML workload: %w", err)
	}
	if generic == nil {
		generic = map[string]interface{}{}
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to convert workload to JSON: %w", err)
	}
	return out, nil
}

func validateSchema(doc []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("workload.schema.json", strings.NewReader(workloadSchema)); err != nil {
		return fmt.Errorf("invalid workload schema: %w", err)
	}
	schema, err := compiler.Compile("workload.schema.json")
	if err != nil {
		return fmt.Errorf("invalid workload schema: %w", err)
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("failed to parse workload: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return schemaErrors(verr)
		}
		return err
	}
	return nil
}

// schemaErrors flattens a schema failure into ValidationErrors, one per leaf cause.
func schemaErrors(verr *jsonschema.ValidationError) error {
	errs := &ValidationErrors{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(strings.ReplaceAll(e.InstanceLocation, "/", "."), ".")
			errs.Add(field, e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return errs.Err()
}

// Validate checks cross-field rules the schema cannot express.
func (w *Workload) Validate() error {
	errs := &ValidationErrors{}

	if w.Duration < 0 {
		errs.Add("duration", "must not be negative")
	}
	if w.TextLocale != "" && !contains(textgen.Locales(), w.TextLocale) {
		errs.Add("textLocale", fmt.Sprintf("unsupported locale %q", w.TextLocale))
	}

	seen := make(map[string]bool)
	total := 0
	for i, p := range w.Profiles {
		prefix := fmt.Sprintf("profiles[%d]", i)
		if p.Name == "" {
			errs.Add(prefix+".name", "name is required")
		} else if seen[p.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate profile %q", p.Name))
		}
		seen[p.Name] = true

		if p.Weight < 0 {
			errs.Add(prefix+".weight", "must not be negative")
		}
		total += p.Weight

		if p.Pacing != nil {
			if p.Pacing.Min < 0 || p.Pacing.Max < 0 {
				errs.Add(prefix+".pacing", "waits must not be negative")
			} else if p.Pacing.Min > p.Pacing.Max {
				errs.Add(prefix+".pacing", fmt.Sprintf("min %v exceeds max %v", p.Pacing.Min, p.Pacing.Max))
			}
		}

		for name, op := range p.Operations {
			if op.Weight != nil && *op.Weight < 0 {
				errs.Add(prefix+".operations."+name+".weight", "must not be negative")
			}
		}
	}
	if len(w.Profiles) > 1 && total == 0 {
		errs.Add("profiles", "at least one profile needs a positive weight")
	}

	return errs.Err()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
