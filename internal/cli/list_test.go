package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoContexts leaves ctx-1 final and ctx-2 suspended.
func twoContexts(t *testing.T, w *workspace) {
	t.Helper()
	provision(t, w)
	changes := w.write(t, "add2.yaml", "change: add\noid: u2\nattrs:\n  name: ADoe\n  assignments: [ldap/account/default]\n")
	_, _, err := execute(NewRunCommand(w.gatedOpts(t, "text", "ctx-2")), changes)
	require.NoError(t, err)
}

func TestListAll(t *testing.T) {
	w := newWorkspace(t)
	twoContexts(t, w)

	out, _, err := execute(NewListCommand(w.opts("json")))
	require.NoError(t, err)

	var entries []ContextEntry
	decodeData(t, out, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "ctx-1", entries[0].ID)
	assert.Equal(t, "SUCCESS", entries[0].Status)
	assert.Equal(t, "ctx-2", entries[1].ID)
	assert.Equal(t, "suspended", entries[1].Status)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestListFilters(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"phase", []string{"--phase", "final"}, []string{"ctx-1"}},
		{"projection_phase", []string{"--phase", "PROJECTION"}, []string{"ctx-2"}},
		{"status", []string{"--status", "SUSPENDED"}, []string{"ctx-2"}},
		{"status_success", []string{"--status", "success"}, []string{"ctx-1"}},
		{"no_match", []string{"--status", "FATAL"}, []string{}},
	}

	w := newWorkspace(t)
	twoContexts(t, w)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(NewListCommand(w.opts("json")), tt.args...)
			require.NoError(t, err)

			var entries []ContextEntry
			decodeData(t, out, &entries)
			ids := []string{}
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListText(t *testing.T) {
	w := newWorkspace(t)
	twoContexts(t, w)

	out, _, err := execute(NewListCommand(w.opts("text")))
	require.NoError(t, err)
	assert.Contains(t, out, "ctx-1")
	assert.Contains(t, out, "suspended")
	assert.Contains(t, out, "2 context(s)")
}

func TestListEmpty(t *testing.T) {
	w := newWorkspace(t)

	out, _, err := execute(NewListCommand(w.opts("text")))
	require.NoError(t, err)
	assert.Contains(t, out, "No contexts found.")
}

func TestListUnknownPhase(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := execute(NewListCommand(w.opts("text")), "--phase", "done")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown phase "done"`)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "ctx-1", truncateID("ctx-1"))
	assert.Equal(t, "01920000...0000abcd", truncateID("01920000-0000-7000-8000-00000000abcd"))
}
