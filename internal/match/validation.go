package match

import "math"

// MaxCounter is the largest value a kingdom counter may hold. It matches the
// INT columns of the kingdom table.
const MaxCounter = math.MaxInt32

// Guards are side-effect free. They run before any mutation so a rejected
// command never reaches the log.

// EnsureAmountPositive rejects amounts <= 0 and amounts above MaxCounter.
func EnsureAmountPositive(amount int) error {
	if amount <= 0 {
		return Errorf(CodeInvalidArgument, "amount must be > 0")
	}
	if amount > MaxCounter {
		return Errorf(CodeInvalidArgument, "amount must be <= %d", MaxCounter)
	}
	return nil
}

// EnsureEnoughGold rejects when kingdom k holds less than need gold.
// A missing kingdom sheet counts as zero gold.
func EnsureEnoughGold(a *Aggregate, k Kingdom, need int) error {
	return EnsureEnough(a, k, ResourceGold, need)
}

// EnsureEnough rejects when kingdom k holds less than need of r.
func EnsureEnough(a *Aggregate, k Kingdom, r Resource, need int) error {
	have := 0
	if ki := a.Kingdom(k); ki != nil {
		have = ki.Amount(r)
	}
	if have < need {
		if r == ResourceGold {
			return Errorf(CodeInsufficientResource, "Not enough gold")
		}
		return Errorf(CodeInsufficientResource, "Not enough %s: have %d, need %d", r, have, need)
	}
	return nil
}

// EnsureRoom rejects when adding amount of r would push kingdom k past
// MaxCounter.
func EnsureRoom(a *Aggregate, k Kingdom, r Resource, amount int) error {
	have := 0
	if ki := a.Kingdom(k); ki != nil {
		have = ki.Amount(r)
	}
	if have > MaxCounter-amount {
		return Errorf(CodeInvalidArgument, "%s would exceed %d: have %d, adding %d", r, MaxCounter, have, amount)
	}
	return nil
}

// EnsureTurn rejects when actor is not the kingdom whose turn it is.
func EnsureTurn(a *Aggregate, actor Kingdom) error {
	if a.Header.CurrentTurn == "" {
		return Errorf(CodeNotYourTurn, "No current turn set")
	}
	if a.Header.CurrentTurn != actor {
		return Errorf(CodeNotYourTurn, "Not your turn")
	}
	return nil
}

// EnsureInProgress rejects commands against a finished or abandoned match.
func EnsureInProgress(a *Aggregate) error {
	if a.Header.Status != StatusInProgress {
		return Errorf(CodeInvalidArgument, "match %d is %s", a.Header.ID, a.Header.Status)
	}
	return nil
}
