package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
)

func TestCreatePrediction(t *testing.T) {
	h := newHarness(t)

	res, err := h.predictions.CreatePrediction(h.ctx, h.createRequest())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, map[string]int64{"yes": 1, "no": 2}, res.OutcomeNamesIDs)

	pred, err := h.predictions.GetPrediction(h.ctx, res.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, pred.Status)
	assert.Equal(t, h.ops.DefaultOracle, pred.OracleAddress)
	assert.Equal(t, h.clock().Add(time.Hour), pred.VotingEndsAt)
	assert.Equal(t, h.clock().Add(2*time.Hour), pred.HappensAt)
	assert.True(t, pred.TokenPool.IsZero())
	require.Len(t, pred.Outcomes, 2)
	assert.Equal(t, "yes", pred.Outcomes[0].Name)
	assert.Equal(t, int64(2), pred.Outcomes[1].ID)
}

func TestCreatePrediction_Validation(t *testing.T) {
	h := newHarness(t)
	writes := h.journal.count()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad happensAt", func(r *CreateRequest) { r.HappensAt = "someday" }},
		{"bad votingEndsAt", func(r *CreateRequest) { r.VotingEndsAt = "" }},
		{"voting ends after event", func(r *CreateRequest) { r.VotingEndsAt, r.HappensAt = r.HappensAt, r.VotingEndsAt }},
		{"blank name", func(r *CreateRequest) { r.Name = "  " }},
		{"wrong type", func(r *CreateRequest) { r.Type = "parimutuel" }},
		{"one outcome", func(r *CreateRequest) { r.OutcomeNames = []string{"yes"} }},
		{"duplicate outcome", func(r *CreateRequest) { r.OutcomeNames = []string{"yes", "yes"} }},
		{"blank outcome", func(r *CreateRequest) { r.OutcomeNames = []string{"yes", ""} }},
		{"bad oracle", func(r *CreateRequest) { r.Oracle = "0x12" }},
		{"bad operator", func(r *CreateRequest) { r.Operator = Identity{Address: "owner"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.createRequest()
			tt.mutate(&req)
			_, err := h.predictions.CreatePrediction(h.ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
	assert.Equal(t, writes, h.journal.count(), "rejected requests never reach the ledger")
}

func TestCreatePrediction_PublishFailureIsReported(t *testing.T) {
	h := newHarness(t)

	h.backend.FailNext("publish", errors.New("gas exhausted"))
	res, err := h.predictions.CreatePrediction(h.ctx, h.createRequest())
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.Contains(t, res.PublishError, "gas exhausted")
	assert.Len(t, res.OutcomeNamesIDs, 2)

	pred, err := h.predictions.GetPrediction(h.ctx, res.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitializing, pred.Status)

	require.NoError(t, h.predictions.PublishPrediction(h.ctx, res.Address, Identity{}))
	pred, err = h.predictions.GetPrediction(h.ctx, res.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, pred.Status)

	err = h.predictions.PublishPrediction(h.ctx, res.Address, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreatePrediction_OutcomeFailure(t *testing.T) {
	h := newHarness(t)

	req := h.createRequest()
	req.OutcomeNames = []string{"home", "draw", "away"}
	h.backend.DropEvents("addOutcome", true)
	_, err := h.predictions.CreatePrediction(h.ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnexpected)

	var perr *OutcomePipelineError
	require.ErrorAs(t, err, &perr)
	assert.NotEmpty(t, perr.Prediction)
	assert.Equal(t, "home", perr.Failed)
	assert.Empty(t, perr.Added)
}

func TestVote(t *testing.T) {
	h := newHarness(t)
	pred := h.published()
	voter := h.account(1000)

	purchase, err := h.predictions.Vote(h.ctx, VoteRequest{
		Prediction: pred,
		Account:    voter,
		Amount:     amt(100),
		OutcomeID:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), purchase.UnitID)
	assert.Equal(t, int64(1), purchase.OutcomeID)
	assert.Equal(t, voter, purchase.Account)
	assert.NotEmpty(t, purchase.TransactionHash)
	assert.True(t, purchase.Amount.Equal(amt(100)))
	assert.True(t, h.balance(voter).Equal(amt(900)))

	allowance, err := h.accounts.GetAllowance(h.ctx, voter, pred)
	require.NoError(t, err)
	assert.True(t, allowance.Amount.IsZero(), "the stake consumes the allowance exactly")

	second, err := h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(50), OutcomeID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.UnitID)

	p, err := h.predictions.GetPrediction(h.ctx, pred)
	require.NoError(t, err)
	assert.True(t, p.TokenPool.Equal(amt(150)))
	assert.True(t, p.Outcomes[0].TokenPool.Equal(amt(100)))
	assert.True(t, p.Outcomes[1].TokenPool.Equal(amt(50)))
}

func TestVote_Rejections(t *testing.T) {
	h := newHarness(t)
	pred := h.published()
	voter := h.account(100)

	_, err := h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: decimal.Zero, OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: decimal.RequireFromString("1e-19"), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.NotErrorIs(t, err, domain.ErrUnexpected)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(101), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: "0xbad", Account: voter, Amount: amt(1), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// Exactly at the end second the ledger no longer accepts units.
	h.advance(time.Hour)
	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrUnexpected)

	h.advance(time.Hour)
	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// A closed window wins over a bad outcome or an unaffordable stake.
	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(500), OutcomeID: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.True(t, h.balance(voter).Equal(amt(100)))
	allowance, err := h.accounts.GetAllowance(h.ctx, voter, pred)
	require.NoError(t, err)
	assert.True(t, allowance.Amount.IsZero())
}

func TestVote_UnpublishedPrediction(t *testing.T) {
	h := newHarness(t)
	h.backend.FailNext("publish", errors.New("boom"))
	res, err := h.predictions.CreatePrediction(h.ctx, h.createRequest())
	require.NoError(t, err)
	voter := h.account(100)

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: res.Address, Account: voter, Amount: amt(10), OutcomeID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVote_MissingReceiptEvent(t *testing.T) {
	h := newHarness(t)
	pred := h.published()
	voter := h.account(100)

	h.backend.DropEvents("buyUnit", true)
	_, err := h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: voter, Amount: amt(10), OutcomeID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnexpected)
	var perr *PartialError
	assert.ErrorAs(t, err, &perr)
}

func TestClosePrediction_Preconditions(t *testing.T) {
	h := newHarness(t)
	pred := h.published()

	_, err := h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "not registered with its oracle")

	require.NoError(t, h.oracles.RegisterPrediction(h.ctx, Identity{}, "", pred))
	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "voting still open")

	h.advance(2 * time.Hour)
	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "oracle has not assigned an outcome")

	_, err = h.oracles.SetOutcome(h.ctx, Identity{}, h.ops.DefaultOracle, pred, 5, false)
	require.NoError(t, err)
	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "outcome out of range")

	_, err = h.oracles.SetOutcome(h.ctx, Identity{}, h.ops.DefaultOracle, pred, 2, false)
	require.NoError(t, err)
	winning, err := h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), winning)

	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "already resolved")
}

func TestWithdrawFunds_RequiresResolution(t *testing.T) {
	h := newHarness(t)
	pred := h.published()
	voter := h.account(100)

	_, err := h.predictions.WithdrawFunds(h.ctx, pred, voter, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettlementEndToEnd(t *testing.T) {
	h := newHarness(t)

	subCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	signals, err := h.bus.Subscribe(subCtx, domain.PredictionChannelPrefix+"*")
	require.NoError(t, err)

	winner := h.account(1000)
	loser := h.account(1000)

	res, err := h.predictions.CreatePrediction(h.ctx, h.createRequest())
	require.NoError(t, err)
	require.True(t, res.Published)
	pred := res.Address

	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: winner, Amount: amt(100), OutcomeID: res.OutcomeNamesIDs["yes"]})
	require.NoError(t, err)
	_, err = h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: loser, Amount: amt(300), OutcomeID: res.OutcomeNamesIDs["no"]})
	require.NoError(t, err)

	votes, err := h.predictions.GetVotes(h.ctx, pred, winner)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "yes", votes[0].OutcomeName)
	assert.Equal(t, []int64{1}, votes[0].Units)
	assert.True(t, votes[0].Amount.Equal(amt(100)))

	h.advance(90 * time.Minute)
	_, err = h.oracles.SetOutcome(h.ctx, Identity{}, h.ops.DefaultOracle, pred, 1, true)
	require.NoError(t, err)
	winning, err := h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), winning)

	payout, err := h.predictions.WithdrawFunds(h.ctx, pred, winner, "")
	require.NoError(t, err)
	assert.True(t, payout.Amount.Equal(amt(400)), "the sole winner takes the whole pool, got %s", payout.Amount)
	assert.Equal(t, []int64{1}, payout.Units)
	assert.True(t, h.balance(winner).Equal(amt(1300)))

	again, err := h.predictions.WithdrawFunds(h.ctx, pred, winner, "")
	require.NoError(t, err)
	assert.True(t, again.Amount.IsZero())

	lost, err := h.predictions.WithdrawFunds(h.ctx, pred, loser, "")
	require.NoError(t, err)
	assert.True(t, lost.Amount.IsZero())
	assert.True(t, h.balance(loser).Equal(amt(700)))

	p, err := h.predictions.GetPrediction(h.ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, p.Status)
	assert.Equal(t, int64(1), p.WinningOutcomeID)

	var kinds []string
	for len(kinds) < 6 {
		select {
		case raw := <-signals:
			var sig domain.LifecycleSignal
			require.NoError(t, json.Unmarshal(raw, &sig))
			assert.Equal(t, pred, sig.Prediction)
			kinds = append(kinds, sig.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for signals, got %v", kinds)
		}
	}
	assert.Equal(t, []string{
		domain.SignalPredictionCreated,
		domain.SignalPredictionPublished,
		domain.SignalUnitBought,
		domain.SignalUnitBought,
		domain.SignalPredictionResolved,
		domain.SignalUnitsWithdrawn,
	}, kinds)

	history, err := h.predictions.Events(h.ctx, pred, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.SignalUnitsWithdrawn, history[0].Kind)
	assert.Equal(t, domain.SignalPredictionResolved, history[1].Kind)
}

func TestWithdrawFunds_ProportionalPayout(t *testing.T) {
	h := newHarness(t)
	pred := h.published()
	a := h.account(1000)
	b := h.account(1000)
	c := h.account(1000)

	for _, v := range []VoteRequest{
		{Prediction: pred, Account: a, Amount: amt(100), OutcomeID: 1},
		{Prediction: pred, Account: a, Amount: amt(100), OutcomeID: 1},
		{Prediction: pred, Account: b, Amount: amt(200), OutcomeID: 1},
		{Prediction: pred, Account: c, Amount: amt(400), OutcomeID: 2},
	} {
		_, err := h.predictions.Vote(h.ctx, v)
		require.NoError(t, err)
	}

	h.advance(2 * time.Hour)
	_, err := h.oracles.SetOutcome(h.ctx, Identity{}, h.ops.DefaultOracle, pred, 1, true)
	require.NoError(t, err)
	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	require.NoError(t, err)

	wa, err := h.predictions.WithdrawFunds(h.ctx, pred, a, "")
	require.NoError(t, err)
	wb, err := h.predictions.WithdrawFunds(h.ctx, pred, b, "")
	require.NoError(t, err)
	assert.True(t, wa.Amount.Equal(amt(400)), "got %s", wa.Amount)
	assert.True(t, wb.Amount.Equal(amt(400)), "got %s", wb.Amount)
	assert.Len(t, wa.Units, 2)
}

func TestWithdrawFunds_ResumesAfterFailedUnit(t *testing.T) {
	var fb *failingBackend
	h := newHarnessWith(t, func(b ledger.Backend) ledger.Backend {
		fb = &failingBackend{Backend: b, method: "withdrawUnit", nth: 2}
		return fb
	})
	pred := h.published()
	winner := h.account(1000)
	loser := h.account(1000)

	var unitIDs []int64
	for i := 0; i < 3; i++ {
		p, err := h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: winner, Amount: amt(100), OutcomeID: 1})
		require.NoError(t, err)
		unitIDs = append(unitIDs, p.UnitID)
	}
	_, err := h.predictions.Vote(h.ctx, VoteRequest{Prediction: pred, Account: loser, Amount: amt(300), OutcomeID: 2})
	require.NoError(t, err)

	h.advance(2 * time.Hour)
	_, err = h.oracles.SetOutcome(h.ctx, Identity{}, h.ops.DefaultOracle, pred, 1, true)
	require.NoError(t, err)
	_, err = h.predictions.ClosePrediction(h.ctx, pred, Identity{})
	require.NoError(t, err)

	first, err := h.predictions.WithdrawFunds(h.ctx, pred, winner, "")
	require.Error(t, err)
	var perr *PartialError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []int64{unitIDs[0]}, first.Units, "units paid before the failure are reported")
	assert.True(t, first.Amount.Equal(amt(200)), "got %s", first.Amount)
	assert.True(t, h.balance(winner).Equal(amt(900)))

	second, err := h.predictions.WithdrawFunds(h.ctx, pred, winner, "")
	require.NoError(t, err)
	assert.Equal(t, unitIDs[1:], second.Units, "only the remainder is paid")
	assert.True(t, second.Amount.Equal(amt(400)), "got %s", second.Amount)

	third, err := h.predictions.WithdrawFunds(h.ctx, pred, winner, "")
	require.NoError(t, err)
	assert.Empty(t, third.Units)
	assert.True(t, third.Amount.IsZero())

	assert.True(t, h.balance(winner).Equal(amt(1300)))
	assert.Equal(t, 4, fb.calls, "the failed unit is attempted twice, the paid one once")
}
