package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShopCheckAccepting(t *testing.T) {
	ready := Shop{WalletAddress: "0xWallet", AcceptedToken: "USDC", AcceptedNetwork: "base"}

	disabled := ready
	assert.ErrorIs(t, disabled.CheckAccepting(), ErrPaymentsDisabled)

	enabled := ready
	enabled.IsX402Enabled = true
	assert.NoError(t, enabled.CheckAccepting())

	missingNetwork := enabled
	missingNetwork.AcceptedNetwork = ""
	assert.False(t, missingNetwork.PaymentReady())
	assert.ErrorIs(t, missingNetwork.CheckAccepting(), ErrIncompleteConfig)
}
