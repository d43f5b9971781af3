package belief

import (
	"sort"

	"go.uber.org/zap"
)

// ComputePosterior conditions prior on one observed answer.
//
// likelihoods holds P(answer | h) as estimated for each hypothesis. The
// estimate is blended with uniformLikelihood by estimatorConfidence, so a
// confidence of 1 trusts the estimator fully and 0 ignores it. Hypotheses
// missing from likelihoods fall back to uniformLikelihood and are reported
// as a warning.
//
// Hypotheses whose unnormalised posterior drops below minProbability are
// pruned, unless that would prune all of them; then the full set is kept.
// The returned marginal is the mass of the surviving set before
// normalisation and doubles as the branch weight of the answer.
func ComputePosterior(
	logger *zap.Logger,
	prior State,
	likelihoods map[string]float64,
	minProbability float64,
	uniformLikelihood float64,
	estimatorConfidence float64,
) (State, float64) {
	if logger == nil {
		logger = zap.NewNop()
	}

	all := make(State, len(prior))
	var missing []string
	for h, p := range prior {
		l, ok := likelihoods[h]
		if !ok {
			l = uniformLikelihood
			missing = append(missing, h)
		}
		blended := l*estimatorConfidence + uniformLikelihood*(1-estimatorConfidence)
		all[h] = p * blended
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		logger.Warn("hypotheses missing from likelihoods, using uniform likelihood",
			zap.Strings("missing", missing),
			zap.Int("known", len(likelihoods)),
			zap.Float64("uniform_likelihood", uniformLikelihood),
		)
	}

	kept := make(State, len(all))
	for h, p := range all {
		if p >= minProbability {
			kept[h] = p
		}
	}

	// An empty survivor set means a very unlikely branch; pruning it buys nothing.
	if len(kept) == 0 {
		kept = all
	}

	marginal := kept.Sum()
	posterior := make(State, len(kept))
	for h, p := range kept {
		if marginal > 0 {
			posterior[h] = p / marginal
		} else {
			posterior[h] = 1 / float64(len(kept))
		}
	}
	return posterior, marginal
}
