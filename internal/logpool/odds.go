package logpool

import "math"

// State maps a pool to the market's belief: the YES probability and its
// log2 odds.
//
//	p = n*log2(n) / (n*log2(n) + y*log2(y))
//	log2odds = log2(p / (1-p))
//
// The NO side's log product is the numerator; this is the fixed design
// choice of this AMM variant, not an LMSR cost-function price.
//
// A pool side equal to 1 makes its log term vanish and the result
// degenerate (probability pinned to 0 or 1, log2odds infinite; NaN when
// both sides are 1). Genesis pools keep both sides well above 1, so this
// is unreachable in practice and deliberately not guarded here: degenerate
// values propagate to the caller rather than being masked.
func State(p Pool) (probability, log2odds float64) {
	yesWeight := p.Yes * math.Log2(p.Yes)
	noWeight := p.No * math.Log2(p.No)

	probability = noWeight / (noWeight + yesWeight)
	log2odds = math.Log2(probability / (1 - probability))
	return probability, log2odds
}
