// Package fusion combines per-index threshold decisions into a single
// binary water mask. Two combination policies are supported: a
// conjunctive rule where each index clears a distinct confound
// (vegetation, built-up, shadow), and a majority vote over independent
// single-index tests. The chosen policy and every threshold it used are
// recorded in the mask's provenance so a run can be reproduced.
package fusion

import (
	"fmt"
	"math"
	"strings"

	"watermask/internal/models"
	"watermask/pkg/indices"
)

// Rule is one threshold comparison against a named index.
type Rule struct {
	Threshold models.Threshold
}

// evaluate applies the rule at flat pixel index i. NaN never passes.
func (r Rule) evaluate(set *indices.IndexSet, i int) bool {
	grid := set.Index(r.Threshold.Index)
	if grid == nil {
		return false
	}
	v := grid.Data[i]
	if math.IsNaN(v) {
		return false
	}
	if r.Threshold.Cmp == models.LessThan {
		return v < r.Threshold.Value
	}
	return v > r.Threshold.Value
}

// ConjunctiveRules carries the five thresholds of the conjunctive
// policy:
//
//	(NDWI > t1 OR MNDWI > t2) AND AWEIsh > t3 AND WI2015 > t4 AND NDVI < t5
//
// NDWI and MNDWI are near-interchangeable water signals, so either may
// fire; the remaining indices each veto a different false-positive
// source.
type ConjunctiveRules struct {
	NDWI   models.Threshold
	MNDWI  models.Threshold
	AWEIsh models.Threshold
	WI2015 models.Threshold
	NDVI   models.Threshold
}

// Conjunctive classifies every pixel with the conjunctive policy.
func Conjunctive(set *indices.IndexSet, rules ConjunctiveRules) *models.ClassificationMask {
	mask := models.NewClassificationMask(set.Width, set.Height)

	ndwi := Rule{Threshold: rules.NDWI}
	mndwi := Rule{Threshold: rules.MNDWI}
	awei := Rule{Threshold: rules.AWEIsh}
	wi := Rule{Threshold: rules.WI2015}
	ndvi := Rule{Threshold: rules.NDVI}

	for i := range mask.Data {
		water := (ndwi.evaluate(set, i) || mndwi.evaluate(set, i)) &&
			awei.evaluate(set, i) &&
			wi.evaluate(set, i) &&
			ndvi.evaluate(set, i)
		mask.Data[i] = water
	}

	mask.Provenance = fmt.Sprintf("conjunctive: (%s OR %s) AND %s AND %s AND %s",
		rules.NDWI, rules.MNDWI, rules.AWEIsh, rules.WI2015, rules.NDVI)
	return mask
}

// VoteRule is one ballot of the majority-vote policy: a single-index
// water test gated by a vegetation cap.
type VoteRule struct {
	// Water is the index threshold that must pass (usually greater-than)
	Water models.Threshold

	// VegetationCap is the NDVI upper bound that must also hold
	VegetationCap models.Threshold
}

// Vote classifies every pixel by majority vote: a pixel is water when
// at least quorum of the rules evaluate true. quorum=1 degenerates to
// OR, quorum=len(rules) to AND.
func Vote(set *indices.IndexSet, rules []VoteRule, quorum int) (*models.ClassificationMask, error) {
	if quorum < 1 || quorum > len(rules) {
		return nil, fmt.Errorf("vote quorum %d out of range [1, %d]", quorum, len(rules))
	}

	mask := models.NewClassificationMask(set.Width, set.Height)
	for i := range mask.Data {
		votes := 0
		for _, r := range rules {
			water := Rule{Threshold: r.Water}
			veg := Rule{Threshold: r.VegetationCap}
			if water.evaluate(set, i) && veg.evaluate(set, i) {
				votes++
			}
		}
		mask.Data[i] = votes >= quorum
	}

	parts := make([]string, len(rules))
	for j, r := range rules {
		parts[j] = fmt.Sprintf("(%s AND %s)", r.Water, r.VegetationCap)
	}
	mask.Provenance = fmt.Sprintf("vote(quorum=%d of %d): %s",
		quorum, len(rules), strings.Join(parts, " + "))
	return mask, nil
}
