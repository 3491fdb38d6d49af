package core

import "time"

// Execute runs a proposal's bound ExecutionOps against vm. It is only valid
// while the proposal is in StatusVoting (U8: execute only fires from
// Voting); Execute itself re-derives pass/fail purely from retry bookkeeping
// so it can be called again after a transient failure without re-running
// the vote.
//
// On success the proposal moves to StatusExecuted. On failure the attempt
// is recorded (execution_retries incremented, last_retry_at set, a failure
// log line appended) but the proposal's state does not change — rejection
// is a separate, explicit transition the caller drives from Voting based on
// outcome or deadline, never an automatic side effect of retry exhaustion.
// Once RetryCount reaches MaxRetries, Execute refuses to run and returns a
// terminal failure on every subsequent call until the caller moves the
// proposal out of Voting by some other means.
func (e *ProposalEngine) Execute(id string, vm *VM) (*ExecutionResult, error) {
	p, err := e.Load(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusVoting {
		return nil, newErr(ErrKindValidation, "Execute", "proposal is not eligible for execution")
	}
	if p.RetryCount > 0 {
		elapsed := time.Since(time.UnixMilli(p.LastAttemptAt))
		if elapsed < CooldownDuration {
			return nil, newErr(ErrKindValidation, "Execute",
				"cooldown period has not elapsed since last execution attempt")
		}
	}
	if p.RetryCount >= MaxRetries {
		return nil, newErr(ErrKindGovernance, "Execute", "maximum execution retries exhausted")
	}

	attempt := p.RetryCount + 1
	runErr := vm.Run(p.ExecutionOps)
	now := time.Now()
	result := ExecutionResult{
		Attempt:   attempt,
		Timestamp: now.UnixMilli(),
		Success:   runErr == nil,
		Events:    vm.Executor.Events(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	p.ExecutionResults = append(p.ExecutionResults, result)
	p.RetryCount = attempt
	p.LastAttemptAt = now.UnixMilli()

	if runErr == nil {
		p.Status = StatusExecuted
		vm.Executor.EmitEvent("governance", "proposal "+id+" executed successfully")
	} else {
		vm.Executor.EmitEvent("governance", "proposal "+id+" execution attempt failed: "+runErr.Error())
	}

	if err := e.save(p); err != nil {
		return &result, err
	}
	return &result, runErr
}
