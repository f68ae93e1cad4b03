package harness

// Trace event types.
const (
	EventStep      = "step"
	EventConnector = "connector"
	EventResult    = "result"
)

// TraceEvent is one entry of a scenario trace. A step event opens every
// step, followed by the connector operations the step caused and, for
// engine steps, a result event describing the context afterwards.
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`

	// Action is the step kind for step events.
	Action string `json:"action,omitempty"`
	// Op is the change type of a submit, the decision of a resume, the
	// operation of a connector call or the operation of an injected fault.
	Op string `json:"op,omitempty"`

	Context    string `json:"context,omitempty"`
	OID        string `json:"oid,omitempty"`
	Resource   string `json:"resource,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	Phase    string `json:"phase,omitempty"`
	Status   string `json:"status,omitempty"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`

	Seq int64 `json:"seq"`
}

// Label is the name assertions refer to: the action of a step event,
// "<resource>.<op>" for a connector call and "result" for a result event.
func (e TraceEvent) Label() string {
	switch e.Type {
	case EventStep:
		return e.Action
	case EventConnector:
		return e.Resource + "." + e.Op
	default:
		return e.Type
	}
}

// Fields returns the event as a map keyed by JSON name. Empty optional
// fields are omitted.
func (e TraceEvent) Fields() map[string]any {
	m := map[string]any{
		"type": e.Type,
		"step": e.Step,
		"seq":  e.Seq,
	}
	for k, v := range map[string]string{
		"action":      e.Action,
		"op":          e.Op,
		"context":     e.Context,
		"oid":         e.OID,
		"resource":    e.Resource,
		"external_id": e.ExternalID,
		"phase":       e.Phase,
		"status":      e.Status,
		"progress":    e.Progress,
		"error":       e.Error,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step, connector call and step result in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
