package engine

// maxSlippage caps the linear impact model at a 50% haircut; beyond that the
// model stops being meaningful for the thin pools it exists to penalize.
const maxSlippage = 0.5

// SlippageFraction models execution-price degradation as linear market
// impact: the fraction of the pool's liquidity our trade consumes, capped at
// maxSlippage. A non-positive liquidity figure yields zero impact, since no
// adjustment is better than a fabricated one.
func SlippageFraction(tradeSize, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 || tradeSize <= 0 {
		return 0
	}
	s := tradeSize / liquidityUSD
	if s > maxSlippage {
		return maxSlippage
	}
	return s
}
