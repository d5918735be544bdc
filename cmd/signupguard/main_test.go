// File: cmd/signupguard/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/signupguard/cmd"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestRun_ExitCodes(t *testing.T) {
	t.Cleanup(resetMocks)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"failure", errors.New("signup scenario failed"), exitFailure},
		{"interrupted", fmt.Errorf("run aborted: %w", context.Canceled), exitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execute = func(context.Context) error { return tt.err }
			assert.Equal(t, tt.want, run(t.Context()))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	var exitCode int
	osExit = func(code int) { exitCode = code }

	t.Run("writes the panic log", func(t *testing.T) {
		var written []byte
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = data
			return nil
		}
		exitCode = -1

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, exitFailure, exitCode)
		require.NotEmpty(t, written)
		assert.Contains(t, string(written), "panic: boom")
		assert.Contains(t, string(written), "goroutine")
	})

	t.Run("falls back to stderr when the log cannot be written", func(t *testing.T) {
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		exitCode = -1

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, exitFailure, exitCode)
	})

	t.Run("no panic", func(t *testing.T) {
		exitCode = -1
		func() {
			defer handlePanic()
		}()
		assert.Equal(t, -1, exitCode)
	})
}
