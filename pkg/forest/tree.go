package forest

import (
	"math/rand"
	"sort"
)

// tree is a single CART classifier grown on a bootstrap sample. Splits
// minimize Gini impurity over a random subset of features; leaves carry
// the majority label of their samples.
type tree struct {
	root *node
}

type node struct {
	// interior nodes
	feature int
	split   float64
	left    *node
	right   *node

	// leaves
	leaf  bool
	label int
}

// predict returns the {0,1} label for one feature vector.
func (t *tree) predict(features []float64) int {
	n := t.root
	for !n.leaf {
		if features[n.feature] <= n.split {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.label
}

// growTree builds a tree recursively. mtry features are drawn without
// replacement at each split; growth stops when a node is pure, smaller
// than twice the leaf minimum, or no split reduces impurity.
func growTree(samples []TrainingSample, mtry, minLeaf int, rng *rand.Rand) *tree {
	return &tree{root: growNode(samples, mtry, minLeaf, rng)}
}

func growNode(samples []TrainingSample, mtry, minLeaf int, rng *rand.Rand) *node {
	ones := countOnes(samples)
	if ones == 0 || ones == len(samples) || len(samples) < 2*minLeaf {
		return leafNode(samples, ones)
	}

	nFeatures := len(samples[0].Features)
	feature, split, ok := bestSplit(samples, pickFeatures(nFeatures, mtry, rng), minLeaf)
	if !ok {
		return leafNode(samples, ones)
	}

	var left, right []TrainingSample
	for _, s := range samples {
		if s.Features[feature] <= split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    growNode(left, mtry, minLeaf, rng),
		right:   growNode(right, mtry, minLeaf, rng),
	}
}

func leafNode(samples []TrainingSample, ones int) *node {
	label := 0
	if 2*ones >= len(samples) {
		label = 1
	}
	return &node{leaf: true, label: label}
}

func countOnes(samples []TrainingSample) int {
	n := 0
	for _, s := range samples {
		n += s.Label
	}
	return n
}

// pickFeatures draws mtry distinct feature indices.
func pickFeatures(nFeatures, mtry int, rng *rand.Rand) []int {
	perm := rng.Perm(nFeatures)
	if mtry > nFeatures {
		mtry = nFeatures
	}
	return perm[:mtry]
}

// bestSplit searches the candidate features for the split minimizing
// weighted Gini impurity. For each feature the samples are sorted by
// value and swept once, maintaining left/right class counts so every
// candidate cut is scored in O(1). Cuts that would leave either side
// below minLeaf are skipped.
func bestSplit(samples []TrainingSample, features []int, minLeaf int) (feature int, split float64, ok bool) {
	bestGini := gini(countOnes(samples), len(samples))
	n := len(samples)

	order := make([]int, n)
	for _, f := range features {
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return samples[order[a]].Features[f] < samples[order[b]].Features[f]
		})

		leftOnes, leftN := 0, 0
		totalOnes := countOnes(samples)
		for i := 0; i < n-1; i++ {
			s := samples[order[i]]
			leftOnes += s.Label
			leftN++

			next := samples[order[i+1]].Features[f]
			if next == s.Features[f] {
				continue // can't cut between equal values
			}
			if leftN < minLeaf || n-leftN < minLeaf {
				continue
			}

			rightOnes := totalOnes - leftOnes
			w := (float64(leftN)*gini(leftOnes, leftN) +
				float64(n-leftN)*gini(rightOnes, n-leftN)) / float64(n)
			if w < bestGini {
				bestGini = w
				feature = f
				split = (s.Features[f] + next) / 2
				ok = true
			}
		}
	}
	return feature, split, ok
}

// gini returns the Gini impurity of a binary class distribution.
func gini(ones, total int) float64 {
	if total == 0 {
		return 0
	}
	p := float64(ones) / float64(total)
	return 2 * p * (1 - p)
}
