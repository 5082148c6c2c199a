package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/model"
)

func TestReadyCommand_MarksReady(t *testing.T) {
	fx := newCLIFixture(t, twoPersonRun(model.StateActive), riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "ready", "run-1", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "marked ready (run active)")

	p, ok := fx.svc.Run().Participant("u-marc")
	require.True(t, ok)
	assert.True(t, p.Ready)
}

func TestReadyCommand_AutoConfirmsWhenLastReady(t *testing.T) {
	run := twoPersonRun(model.StateActive)
	run.Participants[0].Ready = true // Lena is already ready
	fx := newCLIFixture(t, run, riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "ready", "run-1", "on")
	require.NoError(t, err)

	// The echo carries the auto-confirmed run.
	assert.Contains(t, out, "marked ready (run confirmed)")
	assert.Equal(t, model.StateConfirmed, fx.svc.Run().State)
}

func TestReadyCommand_Off(t *testing.T) {
	run := twoPersonRun(model.StateActive)
	run.Participants[1].Ready = true
	fx := newCLIFixture(t, run, riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "ready", "run-1", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "readiness cleared (run active)")

	p, ok := fx.svc.Run().Participant("u-marc")
	require.True(t, ok)
	assert.False(t, p.Ready)
}

func TestReadyCommand_InvalidArgument(t *testing.T) {
	_, err := executeCommand(t, "ready", "run-1", "maybe")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid readiness")
}
