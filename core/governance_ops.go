package core

import "fmt"

// execRankedVote implements instant-runoff ranked-choice voting, grounded on
// original_source/crates/icn-covm/src/governance/ranked_vote.rs. The length
// of Op.Candidates is the candidate count and Op.Count carries the ballot
// count; each ballot is popped from the stack as len(Op.Candidates) values,
// one rank per candidate, in the order first-choice..last-choice. Ties are broken by eliminating
// the lowest-indexed candidate among those tied for fewest votes, matching
// the original's linear scan that keeps the first minimum found.
func (vm *VM) execRankedVote(op Operation) error {
	candidates := len(op.Candidates)
	ballots := op.Count
	if candidates < 2 {
		return ErrGovernance("RankedVote", "requires at least 2 candidates")
	}
	if ballots < 1 {
		return ErrGovernance("RankedVote", "requires at least 1 ballot")
	}

	allBallots := make([][]int, ballots)
	for b := ballots - 1; b >= 0; b-- {
		ballot := make([]int, candidates)
		for c := candidates - 1; c >= 0; c-- {
			v, err := vm.Stack.PopNumber()
			if err != nil {
				return err
			}
			ballot[c] = int(v)
		}
		allBallots[b] = ballot
	}

	vm.Executor.EmitEvent("governance", fmt.Sprintf(
		"running ranked-choice vote with %d candidates and %d ballots", candidates, ballots))

	eliminated := make([]bool, candidates)
	remaining := candidates

	for remaining > 1 {
		votes := make([]int, candidates)
		for _, ballot := range allBallots {
			for _, choice := range ballot {
				if choice >= 0 && choice < candidates && !eliminated[choice] {
					votes[choice]++
					break
				}
			}
		}

		minVotes := ballots + 1
		minCandidate := 0
		for c, count := range votes {
			if !eliminated[c] && count < minVotes && count > 0 {
				minVotes = count
				minCandidate = c
			}
		}

		eliminated[minCandidate] = true
		remaining--
		vm.Executor.EmitEvent("governance", fmt.Sprintf(
			"eliminated candidate %d with %d votes", minCandidate, minVotes))
	}

	winner := 0
	for c, e := range eliminated {
		if !e {
			winner = c
			break
		}
	}
	vm.Executor.EmitEvent("governance", fmt.Sprintf("winner of ranked-choice vote: candidate %d", winner))
	vm.Stack.Push(Number(float64(winner)))
	return nil
}

const delegationNamespace = "governance/delegations"

// execLiquidDelegate implements liquid-democracy vote delegation, grounded
// on .../governance/liquid_delegate.rs. Delegations persist in Storage
// rather than a serialized Memory blob, since they must survive across
// proposal executions and be visible to CheckDelegation. An empty
// Op.Delegate revokes; otherwise the delegation chain is walked to reject
// cycles before the new edge is written.
func (vm *VM) execLiquidDelegate(op Operation) error {
	if op.Delegator == "" {
		return ErrGovernance("LiquidDelegate", "requires a non-empty delegator")
	}

	if op.Delegate == "" {
		key := delegationNamespace + "/" + op.Delegator
		if vm.Executor.ContainsP(key) {
			if err := vm.Executor.DeleteP(key); err != nil {
				return err
			}
			vm.Executor.EmitEvent("governance", fmt.Sprintf("delegation revoked for %s", op.Delegator))
		} else {
			vm.Executor.EmitEvent("governance", fmt.Sprintf("no delegation found to revoke for %s", op.Delegator))
		}
		return nil
	}

	visited := map[string]bool{op.Delegator: true}
	current := op.Delegate
	for current != "" {
		if visited[current] {
			return ErrGovernance("LiquidDelegate",
				fmt.Sprintf("delegation from %s to %s would create a cycle", op.Delegator, op.Delegate))
		}
		visited[current] = true
		next, err := vm.Executor.LoadP(delegationNamespace+"/"+current, MissingKeyDefault)
		if err != nil {
			return err
		}
		if next.IsString() {
			current = next.ToCanonicalString()
		} else {
			current = ""
		}
	}

	if err := vm.Executor.StoreP(delegationNamespace+"/"+op.Delegator, String(op.Delegate), "delegate"); err != nil {
		return err
	}
	vm.Executor.EmitEvent("governance", fmt.Sprintf("delegation created from %s to %s", op.Delegator, op.Delegate))
	return nil
}

// execVoteThreshold implements §12.1's standard-truthiness resolution of
// vote_threshold.rs: rather than the original's inverted push(0.0)=truthy
// convention, CoVM pushes Boolean(true) when the threshold is met.
func (vm *VM) execVoteThreshold(op Operation) error {
	if op.Threshold < 0 {
		return ErrGovernance("VoteThreshold", "threshold must be non-negative")
	}
	totalVotes, err := vm.Stack.PopNumber()
	if err != nil {
		return err
	}
	vm.Executor.EmitEvent("governance", fmt.Sprintf(
		"vote threshold check: %.2f votes, threshold: %.2f", totalVotes, op.Threshold))

	met := totalVotes >= op.Threshold
	vm.Stack.Push(Boolean(met))
	if met {
		vm.Executor.EmitEvent("governance", "vote threshold met")
	} else {
		vm.Executor.EmitEvent("governance", "vote threshold not met")
	}
	return nil
}

// execQuorumThreshold implements quorum_threshold.rs with the same
// standard-truthiness resolution as execVoteThreshold.
func (vm *VM) execQuorumThreshold(op Operation) error {
	if op.Quorum < 0 || op.Quorum > 1 {
		return ErrGovernance("QuorumThreshold", "quorum must be between 0.0 and 1.0")
	}
	votesCast, err := vm.Stack.PopNumber()
	if err != nil {
		return err
	}
	totalPossible, err := vm.Stack.PopNumber()
	if err != nil {
		vm.Stack.Push(Number(votesCast))
		return err
	}
	if totalPossible <= 0 {
		return ErrGovernance("QuorumThreshold", "total possible votes must be greater than zero")
	}

	ratio := votesCast / totalPossible
	vm.Executor.EmitEvent("governance", fmt.Sprintf(
		"quorum check: %v/%v = %.2f%%, threshold: %.2f%%", votesCast, totalPossible, ratio*100, op.Quorum*100))

	met := ratio >= op.Quorum
	vm.Stack.Push(Boolean(met))
	if met {
		vm.Executor.EmitEvent("governance", "quorum threshold met")
	} else {
		vm.Executor.EmitEvent("governance", "quorum threshold not met")
	}
	return nil
}

// execIdentityOp dispatches the three identity/membership checks. All three
// resolve against Storage-backed state: a registered identity's public
// record, a namespace's membership role grants, and the delegation map
// execLiquidDelegate maintains.
func (vm *VM) execIdentityOp(op Operation) error {
	switch op.Kind {
	case OpKindVerifyIdentity:
		key := "identities/" + op.Identity
		ok := vm.Executor.ContainsP(key)
		vm.Stack.Push(Boolean(ok))
		return nil
	case OpKindCheckMembership:
		key := "members/" + op.Namespace + "/" + op.Identity
		ok := vm.Executor.ContainsP(key)
		vm.Stack.Push(Boolean(ok))
		return nil
	case OpKindCheckDelegation:
		v, err := vm.Executor.LoadP(delegationNamespace+"/"+op.Delegator, MissingKeyDefault)
		if err != nil {
			return err
		}
		ok := v.IsString() && v.ToCanonicalString() == op.Delegate
		vm.Stack.Push(Boolean(ok))
		return nil
	default:
		return newErr(ErrKindNotImplemented, string(op.Kind), "unrecognized identity operation")
	}
}
