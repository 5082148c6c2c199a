package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/model"
)

func TestBidCommand_Place(t *testing.T) {
	fx := newCLIFixture(t, twoPersonRun(model.StateActive), riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "bid", "run-1", "p-rice", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "bid 10.00 on p-rice (requested 10.00)")

	assert.Contains(t, fx.svc.Calls(), "PUT /api/runs/run-1/bids/p-rice")
	p, found := fx.svc.Orders().Product("p-rice")
	require.True(t, found)
	assert.Equal(t, "10.00", p.Requested.String())
}

func TestBidCommand_JSON(t *testing.T) {
	fx := newCLIFixture(t, twoPersonRun(model.StateActive), riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "--format", "json", "bid", "run-1", "p-rice", "2.5")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", data["run_id"])
	assert.Equal(t, "p-rice", data["product_id"])
	assert.Equal(t, "2.50", data["quantity"])
	assert.Equal(t, "active", data["state"])
}

func TestBidCommand_Retract(t *testing.T) {
	orders := riceOrders()
	orders.Products[0].UpsertBid(model.Bid{UserID: "u-marc", Name: "Marc", Quantity: 500})
	fx := newCLIFixture(t, twoPersonRun(model.StateActive), orders, "u-marc", "Marc")

	out, err := fx.execute(t, "bid", "run-1", "p-rice", "--retract")
	require.NoError(t, err)
	assert.Contains(t, out, "bid retracted from p-rice (requested 0.00)")
	assert.Contains(t, fx.svc.Calls(), "DELETE /api/runs/run-1/bids/p-rice")
}

func TestBidCommand_Interest(t *testing.T) {
	fx := newCLIFixture(t, twoPersonRun(model.StatePlanning), riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "bid", "run-1", "p-rice", "--interest")
	require.NoError(t, err)
	assert.Contains(t, out, "interest noted on p-rice")

	p, found := fx.svc.Orders().Product("p-rice")
	require.True(t, found)
	assert.Equal(t, 1, p.InterestedCount)
}

func TestBidCommand_RejectedInPlanning(t *testing.T) {
	fx := newCLIFixture(t, twoPersonRun(model.StatePlanning), riceOrders(), "u-marc", "Marc")

	out, err := fx.execute(t, "bid", "run-1", "p-rice", "10")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_STATE]")

	// The local gate refuses before anything reaches the service.
	assert.NotContains(t, fx.svc.Calls(), "PUT /api/runs/run-1/bids/p-rice")
}

func TestBidCommand_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing quantity", []string{"bid", "run-1", "p-rice"}, "quantity required"},
		{"both flags", []string{"bid", "run-1", "p-rice", "--retract", "--interest"}, "mutually exclusive"},
		{"quantity with retract", []string{"bid", "run-1", "p-rice", "3", "--retract"}, "does not apply"},
		{"three decimals", []string{"bid", "run-1", "p-rice", "1.234"}, "invalid quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
