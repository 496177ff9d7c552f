package ethereum

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/ledger"
)

func TestLoadABIs(t *testing.T) {
	abis, err := loadABIs()
	require.NoError(t, err)
	require.Len(t, abis, 5)

	pred := abis[ledger.ContractPrediction]
	for _, m := range []string{"addOutcome", "publish", "buyUnit", "resolve", "withdrawUnit", "units", "outcomes"} {
		_, ok := pred.Methods[m]
		assert.True(t, ok, "prediction ABI missing %s", m)
	}
	_, ok := abis[ledger.ContractOracle].Events["OutcomeAssigned"]
	assert.True(t, ok)
}

func TestDecodeLogs_UnitBought(t *testing.T) {
	abis, err := loadABIs()
	require.NoError(t, err)
	b := &Backend{abis: abis}

	owner := common.HexToAddress("0x1000000000000000000000000000000000000001")
	ev := abis[ledger.ContractPrediction].Events["UnitBought"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(3), big.NewInt(1), big.NewInt(500))
	require.NoError(t, err)

	transfer := abis[ledger.ContractToken].Events["Transfer"]
	transferData, err := transfer.Inputs.NonIndexed().Pack(big.NewInt(500))
	require.NoError(t, err)

	logs := []*types.Log{
		{
			Topics: []common.Hash{transfer.ID, common.BytesToHash(owner.Bytes()), common.BytesToHash(owner.Bytes())},
			Data:   transferData,
		},
		{
			Topics: []common.Hash{ev.ID, common.BytesToHash(owner.Bytes())},
			Data:   data,
		},
		{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}},
	}

	events := b.decodeLogs(ledger.ContractPrediction, logs)
	require.Len(t, events, 2)
	assert.Equal(t, "Transfer", events[0].Name)
	assert.Equal(t, "UnitBought", events[1].Name)

	values := events[1].Values
	unitID, err := ledger.EventInt(values, "_unitId")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unitID)
	amount, err := ledger.EventBig(values, "_tokenAmount")
	require.NoError(t, err)
	assert.Equal(t, "500", amount.String())
	gotOwner, err := ledger.EventAddress(values, "_owner")
	require.NoError(t, err)
	assert.Equal(t, owner, gotOwner)
}

func TestDecodeLogs_EventWithoutArguments(t *testing.T) {
	abis, err := loadABIs()
	require.NoError(t, err)
	b := &Backend{abis: abis}

	ev := abis[ledger.ContractPrediction].Events["PredictionPublished"]
	events := b.decodeLogs(ledger.ContractPrediction, []*types.Log{{Topics: []common.Hash{ev.ID}}})
	require.Len(t, events, 1)
	assert.Equal(t, "PredictionPublished", events[0].Name)
	assert.Empty(t, events[0].Values)
}
