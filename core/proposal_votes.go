package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// VoteChoice is a simple yes/no/abstain ballot, distinct from the VM-level
// RankedVote op which handles multi-candidate ranked ballots; proposal
// voting uses this simpler form unless a proposal explicitly runs a
// RankedVote op as part of its execution oplist.
type VoteChoice int

const (
	VoteAbstain VoteChoice = iota
	VoteApprove
	VoteReject
)

// CastVote is one recorded ballot. A voter who has delegated away their vote
// may still cast, but the ballot is recorded with zero weight; a delegate's
// ballot carries only its own weight, not that of the voters who delegated
// to it.
type CastVote struct {
	ProposalID string
	Voter      string
	Choice     VoteChoice
	Weight     float64
	Timestamp  int64
}

func voteKey(proposalID, voter string) string {
	return proposalKey(proposalID) + "/votes/" + voter
}

// VoteTally is the aggregated result of counting a proposal's recorded
// votes against its declared eligible-voter universe.
type VoteTally struct {
	TotalEligible     float64
	ParticipationCast float64
	ApprovalWeight    float64
	RejectionWeight   float64
}

func (t VoteTally) ParticipationRatio() float64 {
	if t.TotalEligible == 0 {
		return 0
	}
	return t.ParticipationCast / t.TotalEligible
}

func (t VoteTally) ApprovalRatio() float64 {
	total := t.ApprovalWeight + t.RejectionWeight
	if total == 0 {
		return 0
	}
	return t.ApprovalWeight / total
}

// Vote records a ballot for a proposal currently in Voting, gated on
// namespace membership: only voters with a members/<Namespace>/<voter>
// record may vote, matching §9's membership-gate supplement.
func (e *ProposalEngine) Vote(id, voter string, choice VoteChoice, weight float64) error {
	p, err := e.Load(id)
	if err != nil {
		return err
	}
	if p.Status != StatusVoting {
		return newErr(ErrKindValidation, "Vote", fmt.Sprintf("proposal %s is not open for voting", id))
	}
	if time.Now().UnixMilli() > p.VotingDeadline {
		return newErr(ErrKindValidation, "Vote", fmt.Sprintf("proposal %s voting window has closed", id))
	}
	memberKey := "members/" + p.Namespace + "/" + voter
	if !e.storage.Contains(e.auth, memberKey) {
		return ErrPermissionDeniedOp(voter, "vote", id)
	}
	vk := voteKey(id, voter)
	if e.storage.Contains(e.auth, vk) {
		return newErr(ErrKindValidation, "Vote", fmt.Sprintf("%s has already voted on %s", voter, id))
	}

	effectiveWeight := e.resolveDelegatedWeight(voter, weight)
	ballot := CastVote{ProposalID: id, Voter: voter, Choice: choice, Weight: effectiveWeight, Timestamp: time.Now().UnixMilli()}
	raw, _ := encodeVote(ballot)
	return e.storage.Set(e.auth, vk, String(raw), "vote")
}

// resolveDelegatedWeight checks the delegation record execLiquidDelegate
// maintains: if voter has delegated away their vote, their direct vote
// carries no weight. Only the voter's own record is read; the chain is not
// walked, and Tally adds no delegated weight to the delegate.
func (e *ProposalEngine) resolveDelegatedWeight(voter string, baseWeight float64) float64 {
	delegateV, err := e.storage.Get(e.auth, delegationNamespace+"/"+voter)
	if err == nil && delegateV.IsString() && delegateV.ToCanonicalString() != "" {
		return 0
	}
	return baseWeight
}

// Tally sums recorded votes into a VoteTally. totalEligible is supplied by
// the caller (typically the namespace's registered member count) since the
// engine itself has no authoritative membership roster beyond namespace
// grants.
func (e *ProposalEngine) Tally(id string, totalEligible float64) (VoteTally, error) {
	votes := e.storage.ListKeys(e.auth, proposalKey(id)+"/votes/")
	tally := VoteTally{TotalEligible: totalEligible}
	for _, k := range votes {
		v, err := e.storage.Get(e.auth, k)
		if err != nil {
			continue
		}
		ballot, err := decodeVote(v.ToCanonicalString())
		if err != nil {
			continue
		}
		tally.ParticipationCast += ballot.Weight
		switch ballot.Choice {
		case VoteApprove:
			tally.ApprovalWeight += ballot.Weight
		case VoteReject:
			tally.RejectionWeight += ballot.Weight
		}
	}
	return tally, nil
}

// Finalize checks quorum and threshold against a tally. A proposal that
// fails either moves to Rejected; one that passes stays in Voting until the
// caller invokes Execute. It does not itself run the execution oplist.
func (e *ProposalEngine) Finalize(id string, totalEligible float64) (*Proposal, VoteTally, error) {
	p, err := e.Load(id)
	if err != nil {
		return nil, VoteTally{}, err
	}
	if p.Status != StatusVoting {
		return nil, VoteTally{}, newErr(ErrKindValidation, "Finalize", "proposal is not in voting")
	}
	tally, _ := e.Tally(id, totalEligible)

	if tally.ParticipationRatio() < p.Quorum {
		p.Status = StatusRejected
		e.log.Infof("proposal %s rejected: quorum not met (%.2f < %.2f)", id, tally.ParticipationRatio(), p.Quorum)
		return p, tally, e.save(p)
	}
	if tally.ApprovalRatio() < p.Threshold {
		p.Status = StatusRejected
		e.log.Infof("proposal %s rejected: threshold not met (%.2f < %.2f)", id, tally.ApprovalRatio(), p.Threshold)
		return p, tally, e.save(p)
	}
	e.log.Infof("proposal %s passed quorum and threshold, ready for execution", id)
	return p, tally, e.save(p)
}

func encodeVote(v CastVote) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", wrapErr(ErrKindSerialization, "encodeVote", "failed to serialize ballot", err)
	}
	return string(raw), nil
}

func decodeVote(raw string) (*CastVote, error) {
	var v CastVote
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, wrapErr(ErrKindDeserialization, "decodeVote", "malformed ballot record", err)
	}
	return &v, nil
}
