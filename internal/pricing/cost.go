package pricing

// TokenTuple carries one event's token counts, the calculator's only input
// besides model and mode.
type TokenTuple struct {
	Input         int64
	Output        int64
	CacheRead     int64
	CacheCreation int64
}

// Costs computes both billing regimes for one token tuple in a single call:
// the API-rate cost and the cost under the resolved mode. Under max billing
// cache reads and creation are included in the subscription, so for any tuple
// with cache usage cost(max) <= cost(api). Free mode is always zero.
func (t *Table) Costs(tokens TokenTuple, model string, mode Mode) (apiUSD, modeUSD float64) {
	p := t.Lookup(model)
	apiUSD = tokenCost(tokens, p, false)

	switch mode {
	case ModeFree:
		modeUSD = 0
	case ModeMax:
		modeUSD = tokenCost(tokens, p, true)
	default:
		modeUSD = apiUSD
	}
	return apiUSD, modeUSD
}

func tokenCost(tokens TokenTuple, p ModelPricing, cacheIncluded bool) float64 {
	const million = 1_000_000

	cost := float64(tokens.Input) / million * p.InputPerMillion
	cost += float64(tokens.Output) / million * p.OutputPerMillion
	if !cacheIncluded {
		cost += float64(tokens.CacheRead) / million * p.CacheReadPerMillion
		cost += float64(tokens.CacheCreation) / million * p.CacheCreationPerMillion
	}
	return cost
}
