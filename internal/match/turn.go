package match

// NextKingdom returns the kingdom that moves after k in the detail's order.
// The second return value is true when the order wraps, which closes a round.
func (d Detail) NextKingdom(k Kingdom) (Kingdom, bool) {
	order := d.Order()
	for i, o := range order {
		if o == k {
			if i == len(order)-1 {
				return order[0], true
			}
			return order[i+1], false
		}
	}
	return order[0], true
}

// endTurn hands the turn to the next kingdom. Closing a round bumps the
// round number and advances the phase.
func (a *Aggregate) endTurn() Kingdom {
	next, wrapped := a.Detail.NextKingdom(a.Header.CurrentTurn)
	if wrapped {
		a.Detail.RoundNumber++
		a.Detail.Phase = a.Detail.Phase.Next()
	}
	a.Header.setTurn(next)
	return next
}
