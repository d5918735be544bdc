// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/signupguard/internal/reporting"
	"github.com/xkilldash9x/signupguard/internal/reporting/sarif"
	"github.com/xkilldash9x/signupguard/internal/scenario"
)

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

// Write writes to the internal buffer, simulating a write error if configured.
func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

// Close simulates a closing error if configured.
func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func newMockWriter() *MockWriteCloser {
	return &MockWriteCloser{Buffer: new(bytes.Buffer)}
}

func completedRun() *scenario.Result {
	return &scenario.Result{
		RunID:     "run-1",
		Driver:    "playwright",
		Scenario:  "signup",
		BaseURL:   "http://localhost:5173/",
		Route:     "/signup",
		Expect:    scenario.ExpectRejected,
		State:     scenario.StateCompleted,
		StartedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Duration:  12 * time.Second,
		Fields: []scenario.FieldResult{
			{Name: "email", Value: "testuser@linkwell.test"},
			{Name: "password", Value: "Ab1", Secret: true},
		},
		Eval: &scenario.Evaluation{
			Expect:        scenario.ExpectRejected,
			Met:           true,
			FormCount:     1,
			FormDisplayed: true,
			Diagnostics:   []string{"Password must be at least 8 characters long."},
		},
	}
}

func failedRun() *scenario.Result {
	res := completedRun()
	res.RunID = "run-2"
	res.State = scenario.StateFailed
	res.Error = "route not ready: /signup after 3 attempts"
	res.Eval = nil
	return res
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log))
	return log
}

func TestSARIFReporter_Initialization(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, "v1.2.3-test")
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)

	log := decodeSARIF(t, w)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)
	require.Len(t, log.Runs, 1)
	assert.Equal(t, reporting.ToolName, log.Runs[0].Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *log.Runs[0].Tool.Driver.Version)
	assert.Empty(t, log.Runs[0].Results)
}

func TestSARIFReporter_PassAndFail(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, "dev")
	require.NoError(t, r.Write(completedRun()))
	require.NoError(t, r.Write(failedRun()))
	require.NoError(t, r.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.Len(t, run.Results, 2)
	require.Len(t, run.Tool.Driver.Rules, 1, "both runs check the same thing")
	require.Len(t, run.Invocations, 2)

	pass, fail := run.Results[0], run.Results[1]
	assert.Equal(t, "SIGNUPGUARD-SIGNUP-REJECTED", pass.RuleID)
	assert.Equal(t, pass.RuleID, fail.RuleID)

	assert.Equal(t, sarif.KindPass, pass.Kind)
	assert.Equal(t, sarif.LevelNone, pass.Level)
	assert.Contains(t, *pass.Message.Text, "Password must be at least 8 characters long.")
	assert.Equal(t, "http://localhost:5173/signup", *pass.Locations[0].PhysicalLocation.ArtifactLocation.URI)

	assert.Equal(t, sarif.KindFail, fail.Kind)
	assert.Equal(t, sarif.LevelError, fail.Level)
	assert.Equal(t, "route not ready: /signup after 3 attempts", *fail.Message.Text)

	assert.True(t, run.Invocations[0].ExecutionSuccessful)
	assert.False(t, run.Invocations[1].ExecutionSuccessful)
	assert.Equal(t, "2026-10-18T09:00:12Z", *run.Invocations[0].EndTimeUTC)

	rule := run.Tool.Driver.Rules[0]
	assert.Equal(t, "signup submission on /signup is rejected", *rule.Name)
	assert.Contains(t, *rule.Help.Markdown, "- "+scenario.CriterionDiagnostic)
}

func TestSARIFReporter_RuleCollisionHandling(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, "dev")

	// Same scenario name and expectation, different route: a distinct check.
	other := completedRun()
	other.Route = "/register"
	require.NoError(t, r.Write(completedRun()))
	require.NoError(t, r.Write(other))
	require.NoError(t, r.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, "SIGNUPGUARD-SIGNUP-REJECTED", run.Results[0].RuleID)
	assert.Equal(t, "SIGNUPGUARD-SIGNUP-REJECTED-1", run.Results[1].RuleID)
}

func TestSARIFReporter_DoesNotLeakSecrets(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, "dev")
	require.NoError(t, r.Write(completedRun()))
	require.NoError(t, r.Close())
	assert.NotContains(t, w.Buffer.String(), `"Ab1"`)
}

func TestSARIFReporter_Errors(t *testing.T) {
	t.Run("write failure", func(t *testing.T) {
		w := newMockWriter()
		w.FailWrite = true
		r := reporting.NewSARIFReporter(w, "dev")
		err := r.Close()
		assert.ErrorContains(t, err, "failed to encode SARIF output")
		assert.True(t, w.Closed, "the writer is closed even when encoding fails")
	})

	t.Run("close failure", func(t *testing.T) {
		w := newMockWriter()
		w.FailClose = true
		r := reporting.NewSARIFReporter(w, "dev")
		err := r.Close()
		assert.ErrorContains(t, err, "failed to close output writer")
		assert.True(t, strings.HasPrefix(strings.TrimSpace(w.Buffer.String()), "{"))
	})
}
