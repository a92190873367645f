// Package evaluate computes classification diagnostics for labeled
// datasets. It never touches model state; reports are the only output.
package evaluate

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ClassMetrics holds precision, recall and F1 for one class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ConfusionMatrix is the 2x2 count table for a binary classifier.
type ConfusionMatrix struct {
	TruePositives  int `json:"truePositives"`
	FalsePositives int `json:"falsePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalseNegatives int `json:"falseNegatives"`
}

// Report is the full evaluation output for one scorer.
type Report struct {
	Name      string          `json:"name"`
	Fraud     ClassMetrics    `json:"fraud"`
	Legit     ClassMetrics    `json:"legit"`
	ROCAUC    float64         `json:"rocAuc"`
	Confusion ConfusionMatrix `json:"confusion"`
}

// Evaluate scores predictions against ground truth. scores drive ROC-AUC,
// predictions drive the thresholded metrics. Fails when truth holds only
// one class, since ROC-AUC is undefined there.
func Evaluate(name string, truth, predictions []bool, scores []float64) (*Report, error) {
	if len(truth) == 0 || len(truth) != len(predictions) || len(truth) != len(scores) {
		return nil, fmt.Errorf("evaluate: %w: %d truth, %d predictions, %d scores",
			domain.ErrInputData, len(truth), len(predictions), len(scores))
	}
	var pos int
	for _, l := range truth {
		if l {
			pos++
		}
	}
	if pos == 0 || pos == len(truth) {
		return nil, fmt.Errorf("evaluate %s: %w", name, domain.ErrDegenerateLabels)
	}

	var cm ConfusionMatrix
	for i := range truth {
		switch {
		case truth[i] && predictions[i]:
			cm.TruePositives++
		case truth[i] && !predictions[i]:
			cm.FalseNegatives++
		case !truth[i] && predictions[i]:
			cm.FalsePositives++
		default:
			cm.TrueNegatives++
		}
	}

	return &Report{
		Name:      name,
		Fraud:     classMetrics(cm.TruePositives, cm.FalsePositives, cm.FalseNegatives, pos),
		Legit:     classMetrics(cm.TrueNegatives, cm.FalseNegatives, cm.FalsePositives, len(truth)-pos),
		ROCAUC:    rocAUC(truth, scores),
		Confusion: cm,
	}, nil
}

func classMetrics(tp, fp, fn, support int) ClassMetrics {
	m := ClassMetrics{Support: support}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// rocAUC is the rank-statistic formulation: the probability a random
// positive outscores a random negative, with ties counted half. Equal
// scores share the average of their ranks.
func rocAUC(truth []bool, scores []float64) float64 {
	n := len(scores)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		// 1-based ranks, averaged across the tie group.
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var posRankSum float64
	var pos int
	for i, l := range truth {
		if l {
			posRankSum += ranks[i]
			pos++
		}
	}
	neg := n - pos
	return (posRankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
