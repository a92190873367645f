package detector

import (
	"fmt"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StratifiedSplit partitions row indices into train and test sets,
// preserving the label ratio in both. Shuffling is seeded, so the same
// labels and seed always produce the same split.
func StratifiedSplit(labels []bool, testFraction float64, seed int64) (train, test []int, err error) {
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("split: %w: no rows", domain.ErrInputData)
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("split: %w: test fraction %v", domain.ErrInputData, testFraction)
	}

	var pos, neg []int
	for i, l := range labels {
		if l {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	for _, class := range [][]int{neg, pos} {
		rng.Shuffle(len(class), func(i, j int) {
			class[i], class[j] = class[j], class[i]
		})
		nTest := int(float64(len(class)) * testFraction)
		test = append(test, class[:nTest]...)
		train = append(train, class[nTest:]...)
	}
	return train, test, nil
}

// SelectRows gathers the rows of m at the given indices.
func SelectRows(m [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = m[j]
	}
	return out
}

// SelectLabels gathers labels at the given indices.
func SelectLabels(labels []bool, idx []int) []bool {
	out := make([]bool, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}
