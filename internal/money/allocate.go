package money

import "sort"

// AllocateByWeight splits amount across weights with the largest remainder method.
// The shares always sum to amount; ties go to the lower index. Negative weights count
// as zero and an all-zero weight set splits evenly.
func AllocateByWeight(amount Money, weights []Money) []Money {
	if len(weights) == 0 {
		return nil
	}
	shares := make([]Money, len(weights))
	if amount == 0 {
		return shares
	}
	var total Money
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		n := Money(len(weights))
		for i := range shares {
			shares[i] = amount / n
			if Money(i) < amount%n {
				shares[i]++
			}
		}
		return shares
	}

	type rest struct {
		idx int
		rem Money
	}
	rests := make([]rest, len(weights))
	var given Money
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		shares[i] = amount * w / total
		given += shares[i]
		rests[i] = rest{idx: i, rem: amount * w % total}
	}
	left := amount - given
	if left <= 0 {
		return shares
	}
	sort.SliceStable(rests, func(i, j int) bool {
		if rests[i].rem == rests[j].rem {
			return rests[i].idx < rests[j].idx
		}
		return rests[i].rem > rests[j].rem
	})
	for _, r := range rests {
		if left == 0 {
			break
		}
		shares[r.idx]++
		left--
	}
	return shares
}
