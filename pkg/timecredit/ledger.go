package timecredit

// ledger owns the spendable balance and the pending-abstinence accumulator.
// It is pure bookkeeping: all mutation happens under the engine's lock and
// all persistence is the engine's responsibility.
type ledger struct {
	// balance is the spendable credit in seconds. Never negative.
	balance int64

	// accumulator is abstinence in seconds not yet converted to credit.
	// Never negative, never touched while a session is active.
	accumulator int64

	// maxBalance caps the balance on earning only. 0 means uncapped.
	maxBalance int64
}

// accrue adds abstinence seconds to the accumulator.
func (l *ledger) accrue(seconds int64) {
	if seconds <= 0 {
		return
	}
	l.accumulator += seconds
}

// invalidate zeroes the accumulator. Called the instant a session starts so
// unconverted abstinence cannot be claimed and immediately spent.
func (l *ledger) invalidate() {
	l.accumulator = 0
}

// earn converts the accumulator into credit at ratio seconds of abstinence
// per credit second. The integer-division remainder is retained in the
// accumulator so repeated small settlements lose nothing. Returns the amount
// actually credited (earning is capped at maxBalance, deduction never is).
func (l *ledger) earn(ratio int64) int64 {
	earned := l.accumulator / ratio
	l.accumulator = l.accumulator % ratio
	if earned <= 0 {
		return 0
	}
	credited := earned
	if l.maxBalance > 0 && l.balance+earned > l.maxBalance {
		credited = l.maxBalance - l.balance
		if credited < 0 {
			credited = 0
		}
	}
	l.balance += credited
	return credited
}

// applyDeduction charges up to seconds against the balance and returns the
// amount actually deducted. The single chokepoint for all spending; the
// balance can never go negative through it.
func (l *ledger) applyDeduction(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	actual := seconds
	if actual > l.balance {
		actual = l.balance
	}
	l.balance -= actual
	return actual
}
