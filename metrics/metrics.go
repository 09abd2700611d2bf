// Package metrics provides running statistics over (truth, prediction)
// pairs. Metrics are owned by the caller, fed after each prediction, and
// never touched by the models themselves.
package metrics

import "math"

// Accuracy is the running share of exact label matches.
type Accuracy struct {
	correct int
	total   int
}

func NewAccuracy() *Accuracy { return &Accuracy{} }

func (a *Accuracy) Update(yTrue, yPred string) *Accuracy {
	if yTrue == yPred {
		a.correct++
	}
	a.total++
	return a
}

func (a *Accuracy) Get() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

func (a *Accuracy) N() int { return a.total }

// MAE is the running mean absolute error.
type MAE struct {
	sum float64
	n   int
}

func NewMAE() *MAE { return &MAE{} }

func (m *MAE) Update(yTrue, yPred float64) *MAE {
	m.sum += math.Abs(yTrue - yPred)
	m.n++
	return m
}

func (m *MAE) Get() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// RMSE is the running root mean squared error.
type RMSE struct {
	sum float64
	n   int
}

func NewRMSE() *RMSE { return &RMSE{} }

func (r *RMSE) Update(yTrue, yPred float64) *RMSE {
	d := yTrue - yPred
	r.sum += d * d
	r.n++
	return r
}

func (r *RMSE) Get() float64 {
	if r.n == 0 {
		return 0
	}
	return math.Sqrt(r.sum / float64(r.n))
}

// ROCAUC approximates the area under the ROC curve from a fixed grid of
// score thresholds, so it runs in constant memory over unbounded streams.
// Scores are probabilities of the positive class.
type ROCAUC struct {
	thresholds []float64
	tp, fp     []int
	pos, neg   int
}

func NewROCAUC(nThresholds int) *ROCAUC {
	if nThresholds < 2 {
		nThresholds = 10
	}
	th := make([]float64, nThresholds)
	for i := range th {
		th[i] = float64(i) / float64(nThresholds-1)
	}
	return &ROCAUC{
		thresholds: th,
		tp:         make([]int, nThresholds),
		fp:         make([]int, nThresholds),
	}
}

func (r *ROCAUC) Update(yTrue bool, score float64) *ROCAUC {
	if yTrue {
		r.pos++
	} else {
		r.neg++
	}
	for i, th := range r.thresholds {
		if score >= th {
			if yTrue {
				r.tp[i]++
			} else {
				r.fp[i]++
			}
		}
	}
	return r
}

// Get returns the trapezoidal area under the thresholded ROC points.
func (r *ROCAUC) Get() float64 {
	if r.pos == 0 || r.neg == 0 {
		return 0
	}
	n := len(r.thresholds)
	// Thresholds descend in FPR as they increase, so walk them backwards
	// to get the curve from (0,0) to (1,1).
	auc := 0.0
	prevFPR, prevTPR := 0.0, 0.0
	for i := n - 1; i >= 0; i-- {
		tpr := float64(r.tp[i]) / float64(r.pos)
		fpr := float64(r.fp[i]) / float64(r.neg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevFPR, prevTPR = fpr, tpr
	}
	auc += (1 - prevFPR) * (1 + prevTPR) / 2
	return auc
}
