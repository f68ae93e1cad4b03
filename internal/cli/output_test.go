package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	tests := []struct {
		name  string
		write func(f *OutputFormatter) error
		want  CLIResponse
	}{
		{
			name:  "success",
			write: func(f *OutputFormatter) error { return f.Success(map[string]int{"count": 2}) },
			want:  CLIResponse{Status: "ok", Data: map[string]any{"count": float64(2)}},
		},
		{
			name:  "error",
			write: func(f *OutputFormatter) error { return f.Error("UNKNOWN_CONTEXT", "no such context", nil) },
			want:  CLIResponse{Status: "error", Error: &CLIError{Code: "UNKNOWN_CONTEXT", Message: "no such context"}},
		},
		{
			name: "error_with_details",
			write: func(f *OutputFormatter) error {
				return f.Error("E101", "objectClass is required", map[string]string{"file": "directory.cue"})
			},
			want: CLIResponse{Status: "error", Error: &CLIError{
				Code: "E101", Message: "objectClass is required",
				Details: map[string]any{"file": "directory.cue"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: buf}))

			var got CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutputFormatter_ContextID(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf, ContextID: "ctx-1"}
	require.NoError(t, f.Error("NOT_SUSPENDED", "only a suspended context can be cancelled", nil))

	var got CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ctx-1", got.ContextID)

	buf.Reset()
	require.NoError(t, f.Respond(CLIResponse{Status: "ok", ContextID: "ctx-2"}))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ctx-2", got.ContextID, "an explicit id wins")
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("All definitions valid"))
	require.NoError(t, f.Error("E101", "objectClass is required", map[string]string{"file": "directory.cue"}))

	assert.Equal(t, "All definitions valid\nError [E101]: objectClass is required\n", buf.String())

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error("E101", "objectClass is required", map[string]string{"file": "directory.cue"}))
	assert.Contains(t, buf.String(), "Details: map[file:directory.cue]")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}

	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}
	f.VerboseLog("Processing %s", "directory.cue")
	assert.Empty(t, diag.String())

	f.Verbose = true
	f.VerboseLog("Processing %s", "directory.cue")
	assert.Equal(t, "Processing directory.cue\n", diag.String())
	assert.Empty(t, out.String(), "diagnostics never reach the JSON stream")

	f.ErrWriter = nil
	f.VerboseLog("fallback")
	assert.Equal(t, "fallback\n", out.String())
}

func TestGetExitCode(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(cause))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitCommandError, "bad path", cause))))
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")

	err := WrapExitError(ExitFailure, "event failed", cause)
	assert.Equal(t, "event failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "bad path", NewExitError(ExitCommandError, "bad path").Error())
}
