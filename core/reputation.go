package core

// reputationKey persists an identity's durable reputation score, distinct
// from Executor.reputation's in-memory per-run counter: this is the
// across-proposal standing the teacher's governance_reputation_voting.go
// tracked via a SYN-REP token balance, here tracked as a plain Storage
// value so it survives VM restarts without a token ledger.
func reputationKey(identity string) string {
	return "reputation/" + identity
}

// AddReputation increases identity's durable reputation by amount,
// grounded on the teacher's AddReputation (governance_reputation_voting.go)
// but backed by Storage instead of a SYN-REP token mint.
func (e *ProposalEngine) AddReputation(identity string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmountOp("AddReputation", amount)
	}
	cur, err := e.ReputationOf(identity)
	if err != nil {
		cur = 0
	}
	return e.storage.Set(e.auth, reputationKey(identity), Number(cur+amount), "reputation credit")
}

func (e *ProposalEngine) SubtractReputation(identity string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmountOp("SubtractReputation", amount)
	}
	cur, err := e.ReputationOf(identity)
	if err != nil {
		return err
	}
	if cur < amount {
		return newErr(ErrKindInsufficientBalance, "SubtractReputation", "reputation score would go negative")
	}
	return e.storage.Set(e.auth, reputationKey(identity), Number(cur-amount), "reputation debit")
}

func (e *ProposalEngine) ReputationOf(identity string) (float64, error) {
	v, err := e.storage.Get(e.auth, reputationKey(identity))
	if err != nil {
		return 0, err
	}
	return v.ToNumber()
}

// VoteReputationWeighted casts a ballot whose weight is the voter's durable
// reputation score, grounded on the teacher's CastRepGovVote
// (governance_reputation_voting.go).
func (e *ProposalEngine) VoteReputationWeighted(id, voter string, choice VoteChoice) error {
	rep, err := e.ReputationOf(voter)
	if err != nil {
		return err
	}
	if rep <= 0 {
		return ErrPermissionDeniedOp(voter, "vote", id)
	}
	return e.Vote(id, voter, choice, rep)
}
