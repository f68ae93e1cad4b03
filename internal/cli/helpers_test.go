package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/engine"
)

const testResources = "testdata/resources"

// workspace is a temp directory holding a database and, optionally, a
// config file that gates ldap.
type workspace struct {
	dir string
	db  string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	return &workspace{dir: dir, db: filepath.Join(dir, "tether.db")}
}

// opts returns root options over the workspace. ids fixes the context ids
// handed out by the engine.
func (w *workspace) opts(format string, ids ...string) *RootOptions {
	opts := &RootOptions{Format: format, Database: w.db, Resources: testResources}
	if len(ids) > 0 {
		opts.IDs = engine.NewFixedGenerator(ids...)
	}
	return opts
}

// gatedOpts is opts with a config file that gates ldap.
func (w *workspace) gatedOpts(t *testing.T, format string, ids ...string) *RootOptions {
	t.Helper()
	path := w.write(t, "tether.toml", "[engine]\ngated_resources = [\"ldap\"]\n")
	opts := w.opts(format, ids...)
	opts.Config = path
	return opts
}

func (w *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

const addJDoe = `change: add
oid: u1
attrs:
  name: JDoe
  fullName: John Doe
  assignments: [ldap/account/default, mail/account/default]
`

// decodeData unmarshals the data of a JSON success response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
