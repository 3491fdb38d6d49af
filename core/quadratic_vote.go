package core

import "math"

// QuadraticWeight converts a staked resource amount into quadratic voting
// power (the square root of tokens committed), grounded on the teacher's
// dao_quadratic_voting.go QuadraticWeight helper. A proposal opts into
// quadratic weighting by passing a voter's committed balance through this
// function before calling ProposalEngine.Vote, rather than the engine
// enforcing one fixed weighting scheme for every proposal.
func QuadraticWeight(committed float64) float64 {
	if committed <= 0 {
		return 0
	}
	return math.Sqrt(committed)
}

// VoteQuadratic casts a ballot weighted by QuadraticWeight(committed),
// after verifying the voter's resource account actually holds at least
// that much balance (mirroring the teacher's ledger-balance check in
// SubmitQuadraticVote).
func (e *ProposalEngine) VoteQuadratic(id, voter string, choice VoteChoice, committed float64) error {
	exec := NewExecutor(e.storage, e.auth, "")
	balance, err := exec.Balance(voter)
	if err != nil {
		return err
	}
	if balance < committed {
		return newErr(ErrKindInsufficientBalance, "VoteQuadratic", "voter does not hold enough balance to commit")
	}
	return e.Vote(id, voter, choice, QuadraticWeight(committed))
}
