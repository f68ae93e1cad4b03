package model

import (
	"fmt"
	"sort"

	"github.com/roach88/tether/internal/ir"
)

// Phase is the clockwork state of a context.
type Phase string

const (
	PhaseInitial    Phase = "INITIAL"
	PhaseFocus      Phase = "FOCUS"
	PhaseProjection Phase = "PROJECTION"
	PhaseExecution  Phase = "EXECUTION"
	PhaseFinal      Phase = "FINAL"
)

var phaseOrder = map[Phase]int{
	PhaseInitial:    0,
	PhaseFocus:      1,
	PhaseProjection: 2,
	PhaseExecution:  3,
	PhaseFinal:      4,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p precedes other.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Derivation distinguishes a focus whose primary change is applied from one
// whose secondary effects are fully derived.
type Derivation string

const (
	DerivationNone           Derivation = ""
	DerivationPrimaryApplied Derivation = "primary_applied"
	DerivationDerived        Derivation = "derived"
)

// Decision is the synchronization policy of a projection.
type Decision string

const (
	DecisionKeep   Decision = "KEEP"
	DecisionAdd    Decision = "ADD"
	DecisionDelete Decision = "DELETE"
	DecisionUnlink Decision = "UNLINK"
	DecisionBroken Decision = "BROKEN"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionKeep, DecisionAdd, DecisionDelete, DecisionUnlink, DecisionBroken:
		return true
	}
	return false
}

// Status is the outcome of one attempted delta.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusHandled  Status = "handled"
	StatusFailed   Status = "failed"
	StatusConflict Status = "conflict"
	StatusSkipped  Status = "skipped"
	StatusNotFound Status = "not_found"
)

// Failed reports whether the status counts against the context outcome.
// A skipped projection never reached its resource.
func (s Status) Failed() bool {
	switch s {
	case StatusFailed, StatusConflict, StatusNotFound, StatusSkipped:
		return true
	}
	return false
}

// OperationResult pairs a status with a human-readable message.
type OperationResult struct {
	Status  Status `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ExecutedDelta records one attempted delta. Records are append-only.
type ExecutedDelta struct {
	Seq    int64           `json:"seq"`
	Delta  *ir.ObjectDelta `json:"delta"`
	Result OperationResult `json:"result"`
}

// Discriminator identifies the role a projection plays.
type Discriminator struct {
	Resource string `json:"resource"`
	Kind     string `json:"kind"`
	Intent   string `json:"intent"`
}

// Key returns "resource/kind/intent".
func (d Discriminator) Key() string {
	return ir.DiscriminatorKey(d.Resource, d.Kind, d.Intent)
}

// Focus is the entity being changed.
type Focus struct {
	Type string `json:"type"`
	OID  string `json:"oid"`
	// Old is the focus before the change; nil for a creation.
	Old *ir.Object `json:"old,omitempty"`
	// Primary is the caller-supplied change.
	Primary *ir.ObjectDelta `json:"primary,omitempty"`
	// Secondary holds system-computed modifications, applied after Primary.
	Secondary []ir.ItemDelta `json:"secondary"`
	// New is Old with Primary and Secondary applied.
	New      *ir.Object      `json:"new,omitempty"`
	Executed []ExecutedDelta `json:"executed"`
}

// Conflict describes why a projection was marked BROKEN by the constraint
// checker.
type Conflict struct {
	Attributes []string `json:"attributes"`
	ShadowOID  string   `json:"shadow_oid,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
}

// Projection is one linked representation of the focus on a resource.
type Projection struct {
	Discriminator Discriminator `json:"discriminator"`
	Decision      Decision      `json:"decision"`
	Required      bool          `json:"required,omitempty"`
	// ShadowOID is the local shadow record; empty until linked.
	ShadowOID string `json:"shadow_oid,omitempty"`
	// ExternalID is the identifier on the resource; empty until ADD
	// succeeds.
	ExternalID string `json:"external_id,omitempty"`
	// Primary is the connector delta. For UNLINK it edits the shadow
	// instead and the external object is left alone.
	Primary *ir.ObjectDelta `json:"primary,omitempty"`
	// Secondary holds late-bound modifications applied after Primary.
	Secondary *ir.ObjectDelta `json:"secondary,omitempty"`
	// Attributes are the computed attributes after the change.
	Attributes ir.IRObject     `json:"attributes"`
	Wave       int             `json:"wave"`
	Executed   []ExecutedDelta `json:"executed"`
	Result     OperationResult `json:"result"`
	Conflict   *Conflict       `json:"conflict,omitempty"`
}

// Key returns the projection's discriminator key.
func (p *Projection) Key() string {
	return p.Discriminator.Key()
}

// Pending reports whether the projection still carries unexecuted deltas.
func (p *Projection) Pending() bool {
	return p.Primary != nil || p.Secondary != nil
}

// Approval is the state of the external policy gate.
type Approval string

const (
	ApprovalNone     Approval = ""
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// OutcomeStatus is the aggregated result of a finished context.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "SUCCESS"
	OutcomePartial   OutcomeStatus = "PARTIAL"
	OutcomeFatal     OutcomeStatus = "FATAL"
	OutcomeCancelled OutcomeStatus = "CANCELLED"
)

// Outcome accumulates the overall result.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	Messages []string      `json:"messages"`
}

// Context is the unit of work for one incoming change.
type Context struct {
	ID         string     `json:"id"`
	Phase      Phase      `json:"phase"`
	Derivation Derivation `json:"derivation,omitempty"`
	Focus      *Focus     `json:"focus"`
	// Projections are kept sorted by discriminator key.
	Projections []*Projection `json:"projections"`
	Approval    Approval      `json:"approval,omitempty"`
	// Outcome is nil until the context reaches FINAL.
	Outcome    *Outcome `json:"outcome,omitempty"`
	Clicks     int      `json:"clicks"`
	Iterations int      `json:"iterations"`
	// Seq numbers executed delta records across the whole context.
	Seq int64 `json:"seq"`
}

// New creates a context in INITIAL for a change to the focus (typ, oid).
// The delta's OID is filled in from oid when missing.
func New(id, typ, oid string, primary *ir.ObjectDelta) *Context {
	return &Context{
		ID:    id,
		Phase: PhaseInitial,
		Focus: &Focus{
			Type:      typ,
			OID:       oid,
			Primary:   primary,
			Secondary: []ir.ItemDelta{},
			Executed:  []ExecutedDelta{},
		},
		Projections: []*Projection{},
	}
}

// Final reports whether the context is terminal.
func (c *Context) Final() bool {
	return c.Phase == PhaseFinal
}

// Projection returns the projection with the given discriminator key.
func (c *Context) Projection(key string) *Projection {
	for _, p := range c.Projections {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

// PutProjection inserts p or replaces the projection with the same key,
// keeping Projections sorted.
func (c *Context) PutProjection(p *Projection) {
	key := p.Key()
	i := sort.Search(len(c.Projections), func(i int) bool {
		return c.Projections[i].Key() >= key
	})
	if i < len(c.Projections) && c.Projections[i].Key() == key {
		c.Projections[i] = p
		return
	}
	c.Projections = append(c.Projections, nil)
	copy(c.Projections[i+1:], c.Projections[i:])
	c.Projections[i] = p
}

// Record appends an executed delta to the focus (p == nil) or to p and
// returns it. The delta is copied.
func (c *Context) Record(p *Projection, delta *ir.ObjectDelta, result OperationResult) ExecutedDelta {
	c.Seq++
	rec := ExecutedDelta{Seq: c.Seq, Delta: delta.Clone(), Result: result}
	if p == nil {
		c.Focus.Executed = append(c.Focus.Executed, rec)
	} else {
		p.Executed = append(p.Executed, rec)
	}
	return rec
}

// Pending reports whether any delta is still waiting for execution.
func (c *Context) Pending() bool {
	if c.Focus != nil && (c.Focus.Primary != nil || len(c.Focus.Secondary) > 0) {
		return true
	}
	for _, p := range c.Projections {
		if p.Pending() {
			return true
		}
	}
	return false
}

// ClearPending drops every unexecuted delta. Executed records are kept.
func (c *Context) ClearPending() {
	if c.Focus != nil {
		c.Focus.Primary = nil
		c.Focus.Secondary = []ir.ItemDelta{}
	}
	for _, p := range c.Projections {
		p.Primary = nil
		p.Secondary = nil
	}
}

// History returns every executed delta record ordered by sequence number.
func (c *Context) History() []ExecutedDelta {
	var all []ExecutedDelta
	if c.Focus != nil {
		all = append(all, c.Focus.Executed...)
	}
	for _, p := range c.Projections {
		all = append(all, p.Executed...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all
}

// Validate checks the structural invariants of the context.
func (c *Context) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("context: empty id")
	}
	if !c.Phase.Valid() {
		return fmt.Errorf("context %s: unknown phase %q", c.ID, c.Phase)
	}
	if c.Focus == nil {
		return fmt.Errorf("context %s: no focus", c.ID)
	}
	if c.Final() {
		if c.Pending() {
			return fmt.Errorf("context %s: final with pending deltas", c.ID)
		}
		if c.Outcome == nil {
			return fmt.Errorf("context %s: final without outcome", c.ID)
		}
	}

	seen := make(map[string]bool, len(c.Projections))
	for _, p := range c.Projections {
		key := p.Key()
		if seen[key] {
			return fmt.Errorf("context %s: duplicate projection %s", c.ID, key)
		}
		seen[key] = true
		if err := p.validate(c.Phase); err != nil {
			return fmt.Errorf("context %s: projection %s: %w", c.ID, key, err)
		}
	}
	return nil
}

func (p *Projection) validate(phase Phase) error {
	if !p.Decision.Valid() {
		return fmt.Errorf("unknown decision %q", p.Decision)
	}
	switch p.Decision {
	case DecisionDelete, DecisionUnlink:
		if p.Primary != nil && p.Primary.ChangeType == ir.ChangeAdd {
			return fmt.Errorf("%s carries an add delta", p.Decision)
		}
		for _, rec := range p.Executed {
			if rec.Delta != nil && rec.Delta.ChangeType == ir.ChangeAdd {
				return fmt.Errorf("%s executed an add delta", p.Decision)
			}
		}
	case DecisionAdd:
		if phase.Before(PhaseExecution) && p.ExternalID != "" {
			return fmt.Errorf("ADD with prior external id %s", p.ExternalID)
		}
	case DecisionBroken:
		if p.Pending() {
			return fmt.Errorf("BROKEN with pending deltas")
		}
	}
	return nil
}
