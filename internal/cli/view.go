package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/model"
)

// ContextView is the printable summary of a change context.
type ContextView struct {
	ID          string           `json:"id"`
	Focus       string           `json:"focus"`
	Phase       string           `json:"phase"`
	Status      string           `json:"status"`
	Progress    string           `json:"progress,omitempty"`
	Approval    string           `json:"approval,omitempty"`
	Clicks      int              `json:"clicks"`
	Projections []ProjectionView `json:"projections"`
	Messages    []string         `json:"messages,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ProjectionView summarizes one projection.
type ProjectionView struct {
	Key        string `json:"key"`
	Decision   string `json:"decision"`
	Wave       int    `json:"wave"`
	ExternalID string `json:"external_id,omitempty"`
	Result     string `json:"result,omitempty"`
	Message    string `json:"message,omitempty"`
}

func newContextView(c *model.Context) ContextView {
	v := ContextView{
		ID:          c.ID,
		Phase:       string(c.Phase),
		Status:      engine.StoredStatus(c),
		Approval:    string(c.Approval),
		Clicks:      c.Clicks,
		Projections: make([]ProjectionView, 0, len(c.Projections)),
	}
	if c.Focus != nil {
		v.Focus = c.Focus.Type + "/" + c.Focus.OID
	}
	for _, p := range c.Projections {
		v.Projections = append(v.Projections, ProjectionView{
			Key:        p.Key(),
			Decision:   string(p.Decision),
			Wave:       p.Wave,
			ExternalID: p.ExternalID,
			Result:     string(p.Result.Status),
			Message:    p.Result.Message,
		})
	}
	if c.Outcome != nil {
		v.Messages = c.Outcome.Messages
	}
	return v
}

// resultView summarizes the state after an event. Without a context only
// the error is known.
func resultView(id string, res engine.Result) ContextView {
	v := ContextView{ID: id, Projections: []ProjectionView{}}
	if res.Context != nil {
		v = newContextView(res.Context)
		v.Progress = string(res.Progress)
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

// writeContextText prints v for humans. Projection messages are only shown
// with --verbose.
func writeContextText(w io.Writer, v ContextView, verbose bool) {
	fmt.Fprintf(w, "Context: %s\n", v.ID)
	if v.Focus != "" {
		fmt.Fprintf(w, "Focus:   %s\n", v.Focus)
	}
	status := v.Status
	if v.Phase != "" {
		status = fmt.Sprintf("%s (%s)", v.Status, v.Phase)
	}
	if status != "" {
		fmt.Fprintf(w, "Status:  %s\n", status)
	}
	if v.Approval != "" {
		fmt.Fprintf(w, "Approval: %s\n", v.Approval)
	}

	if len(v.Projections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Projections ===")
		for _, p := range v.Projections {
			line := fmt.Sprintf("  [%d] %-28s %-7s", p.Wave, p.Key, p.Decision)
			if p.ExternalID != "" {
				line += " " + p.ExternalID
			}
			if p.Result != "" {
				line += " " + p.Result
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
			if verbose && p.Message != "" {
				fmt.Fprintf(w, "       %s\n", p.Message)
			}
		}
	}
	if len(v.Messages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Messages ===")
		for _, m := range v.Messages {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
	if v.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", v.Error)
	}
}

// truncateID shortens a UUID for tables.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
