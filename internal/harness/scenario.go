package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/ir"
)

// Scenario defines a conformance test scenario: resource definitions, an
// initial world, a sequence of steps against the engine and assertions on
// the resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Resources is a directory of CUE resource definitions, relative to
	// the scenario file.
	Resources string `yaml:"resources,omitempty"`

	// Definitions holds inline CUE resource definitions. Exactly one of
	// Resources and Definitions is set.
	Definitions string `yaml:"definitions,omitempty"`

	// Connector selects the external resource backend: "memory" (default)
	// or "sql".
	Connector string `yaml:"connector,omitempty"`

	// GatedResources suspend contexts with pending changes on these
	// resources until resumed with a decision.
	GatedResources []string `yaml:"gated_resources,omitempty"`

	// MaxClicks overrides the engine click quota.
	MaxClicks int `yaml:"max_clicks,omitempty"`

	// ContextPrefix names generated context ids "<prefix>-N". Defaults to
	// "ctx".
	ContextPrefix string `yaml:"context_prefix,omitempty"`

	Setup      Setup       `yaml:"setup,omitempty"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Setup establishes the world before the first step. Setup writes bypass
// the engine and do not appear in the trace.
type Setup struct {
	Users    []UserFixture     `yaml:"users,omitempty"`
	External []ExternalFixture `yaml:"external,omitempty"`
	Faults   []FaultSpec       `yaml:"faults,omitempty"`
}

// UserFixture is a focus object stored before the run.
type UserFixture struct {
	ID    string         `yaml:"id"`
	Attrs map[string]any `yaml:"attrs"`
}

// ExternalFixture is an object placed directly on a resource.
type ExternalFixture struct {
	Resource   string         `yaml:"resource"`
	ExternalID string         `yaml:"external_id"`
	Attrs      map[string]any `yaml:"attrs"`
}

// ExternalRef addresses an object on a resource.
type ExternalRef struct {
	Resource   string `yaml:"resource"`
	ExternalID string `yaml:"external_id"`
}

// FaultSpec makes matching connector operations fail.
type FaultSpec struct {
	Resource   string `yaml:"resource,omitempty"`
	Op         string `yaml:"op,omitempty"`
	ExternalID string `yaml:"external_id,omitempty"`
	// Error is one of unreachable, not_found or rejected.
	Error string `yaml:"error"`
	// Times bounds how often the fault fires. Zero means always.
	Times int `yaml:"times,omitempty"`
}

// Step is one action of the scenario. Exactly one action field is set.
type Step struct {
	Submit         *SubmitStep      `yaml:"submit,omitempty"`
	Resume         *ResumeStep      `yaml:"resume,omitempty"`
	Cancel         *CancelStep      `yaml:"cancel,omitempty"`
	RemoveExternal *ExternalRef     `yaml:"remove_external,omitempty"`
	PutExternal    *ExternalFixture `yaml:"put_external,omitempty"`
	Inject         *FaultSpec       `yaml:"inject,omitempty"`

	// Expect checks the context after an engine step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// SubmitStep submits a change to a focus object.
type SubmitStep struct {
	// Change is add, modify or delete.
	Change string `yaml:"change"`
	// Type defaults to user.
	Type string `yaml:"type,omitempty"`
	OID  string `yaml:"oid"`
	// Attrs is the new object for an add.
	Attrs map[string]any `yaml:"attrs,omitempty"`
	// Modifications are the item deltas of a modify.
	Modifications []Modification `yaml:"modifications,omitempty"`
}

// Modification is one item delta.
type Modification struct {
	Op     string `yaml:"op"`
	Path   string `yaml:"path"`
	Values []any  `yaml:"values,omitempty"`
}

// ResumeStep resumes a stored context.
type ResumeStep struct {
	Context string `yaml:"context"`
	// Decision is approve, reject or empty.
	Decision string `yaml:"decision,omitempty"`
}

// CancelStep cancels a suspended context.
type CancelStep struct {
	Context string `yaml:"context"`
}

// ExpectClause specifies the expected state of a context after a step.
// Empty fields are not checked.
type ExpectClause struct {
	Progress string `yaml:"progress,omitempty"`
	Phase    string `yaml:"phase,omitempty"`
	Status   string `yaml:"status,omitempty"`
	// Error is a substring the step error must contain.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count,
	// final_state, external or links.
	Type string `yaml:"type"`

	// Event is a trace label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`
	// Match is a subset of event fields (trace_contains).
	Match map[string]any `yaml:"match,omitempty"`
	// Events is the expected label order (trace_order).
	Events []string `yaml:"events,omitempty"`
	// Count is the expected number of occurrences (trace_count, links).
	Count int `yaml:"count,omitempty"`

	// Table, Where and Expect query the store (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Resource and ExternalID address an external object (external).
	Resource   string `yaml:"resource,omitempty"`
	ExternalID string `yaml:"external_id,omitempty"`
	// Exists defaults to true.
	Exists *bool `yaml:"exists,omitempty"`
	// Attrs is a subset of the external object's attributes.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// OID is the focus object whose links are counted (links).
	OID string `yaml:"oid,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertExternal      = "external"
	AssertLinks         = "links"
)

// Connector backends.
const (
	ConnectorMemory = "memory"
	ConnectorSQL    = "sql"
)

// LoadScenario reads and parses a scenario YAML file. Resource directories
// are resolved relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. baseDir anchors a relative
// resources directory.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Resources != "" && !filepath.IsAbs(scenario.Resources) && baseDir != "" {
		scenario.Resources = filepath.Join(baseDir, scenario.Resources)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Resources == "" && s.Definitions == "":
		return fmt.Errorf("one of resources or definitions is required")
	case s.Resources != "" && s.Definitions != "":
		return fmt.Errorf("resources and definitions are mutually exclusive")
	case s.Resources != "":
		if info, err := os.Stat(s.Resources); err != nil || !info.IsDir() {
			return fmt.Errorf("resources directory not found: %s", s.Resources)
		}
	}

	switch s.Connector {
	case "", ConnectorMemory, ConnectorSQL:
	default:
		return fmt.Errorf("unknown connector %q: must be %s or %s", s.Connector, ConnectorMemory, ConnectorSQL)
	}
	if s.MaxClicks < 0 {
		return fmt.Errorf("max_clicks must not be negative")
	}

	for i, u := range s.Setup.Users {
		if u.ID == "" {
			return fmt.Errorf("setup.users[%d]: id is required", i)
		}
	}
	for i, x := range s.Setup.External {
		if err := validateExternal(x.Resource, x.ExternalID); err != nil {
			return fmt.Errorf("setup.external[%d]: %w", i, err)
		}
	}
	for i, f := range s.Setup.Faults {
		if err := validateFault(f); err != nil {
			return fmt.Errorf("setup.faults[%d]: %w", i, err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Submit != nil,
		step.Resume != nil,
		step.Cancel != nil,
		step.RemoveExternal != nil,
		step.PutExternal != nil,
		step.Inject != nil,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one of submit, resume, cancel, remove_external, put_external or inject is required")
	}

	switch {
	case step.Submit != nil:
		return step.Submit.Validate()
	case step.Resume != nil:
		if step.Resume.Context == "" {
			return fmt.Errorf("resume: context is required")
		}
		switch step.Resume.Decision {
		case "", "approve", "reject":
		default:
			return fmt.Errorf("resume: unknown decision %q", step.Resume.Decision)
		}
	case step.Cancel != nil:
		if step.Cancel.Context == "" {
			return fmt.Errorf("cancel: context is required")
		}
	case step.RemoveExternal != nil:
		if err := validateExternal(step.RemoveExternal.Resource, step.RemoveExternal.ExternalID); err != nil {
			return fmt.Errorf("remove_external: %w", err)
		}
	case step.PutExternal != nil:
		if err := validateExternal(step.PutExternal.Resource, step.PutExternal.ExternalID); err != nil {
			return fmt.Errorf("put_external: %w", err)
		}
	case step.Inject != nil:
		if err := validateFault(*step.Inject); err != nil {
			return fmt.Errorf("inject: %w", err)
		}
	}

	if step.Expect != nil && step.Submit == nil && step.Resume == nil && step.Cancel == nil {
		return fmt.Errorf("expect is only valid on submit, resume and cancel")
	}
	if step.Expect != nil {
		switch step.Expect.Progress {
		case "", "running", "suspended", "final":
		default:
			return fmt.Errorf("expect: unknown progress %q", step.Expect.Progress)
		}
	}
	return nil
}

// Validate checks the change type and its payload.
func (s *SubmitStep) Validate() error {
	if s.OID == "" {
		return fmt.Errorf("submit: oid is required")
	}
	switch ir.ChangeType(s.Change) {
	case ir.ChangeAdd:
		if len(s.Modifications) > 0 {
			return fmt.Errorf("submit: modifications are only valid for modify")
		}
	case ir.ChangeModify:
		if len(s.Modifications) == 0 {
			return fmt.Errorf("submit: modify requires modifications")
		}
		for i, m := range s.Modifications {
			if m.Path == "" {
				return fmt.Errorf("submit.modifications[%d]: path is required", i)
			}
			switch ir.ItemOp(m.Op) {
			case ir.OpReplace, ir.OpAdd, ir.OpDelete:
			default:
				return fmt.Errorf("submit.modifications[%d]: unknown op %q", i, m.Op)
			}
		}
	case ir.ChangeDelete:
	default:
		return fmt.Errorf("submit: change must be add, modify or delete, got %q", s.Change)
	}
	if s.Change != string(ir.ChangeAdd) && len(s.Attrs) > 0 {
		return fmt.Errorf("submit: attrs are only valid for add")
	}
	return nil
}

func validateExternal(resource, id string) error {
	if resource == "" {
		return fmt.Errorf("resource is required")
	}
	if id == "" {
		return fmt.Errorf("external_id is required")
	}
	return nil
}

func validateFault(f FaultSpec) error {
	if _, ok := faultErrors[f.Error]; !ok {
		return fmt.Errorf("unknown fault error %q: must be unreachable, not_found or rejected", f.Error)
	}
	switch f.Op {
	case "", "add", "modify", "delete", "get":
	default:
		return fmt.Errorf("unknown fault op %q", f.Op)
	}
	if f.Times < 0 {
		return fmt.Errorf("times must not be negative")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertExternal:
		if err := validateExternal(a.Resource, a.ExternalID); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertLinks:
		if a.OID == "" {
			return fmt.Errorf("assertions[%d]: oid is required for links", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for links", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
