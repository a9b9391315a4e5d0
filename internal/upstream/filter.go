package upstream

// filterActivePositions applies the C2 active-position rule in place: a
// position survives iff amount≠0 ∨ notional≠0 ∨ unrealizedPnL≠0. The three
// nonZero*Count audit fields are counted independently, not mutually
// exclusively (spec.md §4.1).
func filterActivePositions(positions *[]interface{}) PositionAudit {
	audit := PositionAudit{TotalCount: len(*positions)}
	if len(*positions) == 0 {
		return audit
	}

	kept := make([]interface{}, 0, len(*positions))
	for _, raw := range *positions {
		pos, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		nonZeroAmount := SafeNumberOrZero(pos["amount"]) != 0
		nonZeroNotional := SafeNumberOrZero(pos["notional"]) != 0
		nonZeroPnL := SafeNumberOrZero(pos["unrealizedPnl"]) != 0
		if !nonZeroPnL {
			// upstream sometimes keys this field "unRealizedProfit"
			nonZeroPnL = SafeNumberOrZero(pos["unRealizedProfit"]) != 0
		}

		if nonZeroAmount {
			audit.NonZeroAmountCount++
		}
		if nonZeroNotional {
			audit.NonZeroNotionalCount++
		}
		if nonZeroPnL {
			audit.NonZeroUnrealizedPnLCount++
		}

		if nonZeroAmount || nonZeroNotional || nonZeroPnL {
			kept = append(kept, raw)
		} else {
			audit.DroppedBecauseAllZeroCount++
		}
	}

	*positions = kept
	audit.FilteredActivePositionsCount = len(kept)
	return audit
}
