package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/boddenberg/wallet-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileResult_BalanceAlwaysSerialized(t *testing.T) {
	tests := []struct {
		name   string
		result domain.ReconcileResult
		want   string
	}{
		{"credited", domain.ReconcileResult{Outcome: domain.OutcomeCredited, Balance: decimal.RequireFromString("100.5")}, "100.5"},
		{"still pending", domain.ReconcileResult{Outcome: domain.OutcomeStillPending}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.result)
			require.NoError(t, err)

			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &fields))
			require.Contains(t, fields, "balance")
			assert.JSONEq(t, `"`+tt.want+`"`, string(fields["balance"]))
		})
	}
}
