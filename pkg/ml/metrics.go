package ml

// Confusion counts binary predictions against truth, with 1 as the positive
// class.
type Confusion struct {
	TruePositive  int
	FalsePositive int
	TrueNegative  int
	FalseNegative int
}

func NewConfusion(truth, predicted []float64) Confusion {
	var c Confusion
	for i := range truth {
		switch {
		case truth[i] == 1 && predicted[i] == 1:
			c.TruePositive++
		case truth[i] == 1:
			c.FalseNegative++
		case predicted[i] == 1:
			c.FalsePositive++
		default:
			c.TrueNegative++
		}
	}
	return c
}

func (c Confusion) total() int {
	return c.TruePositive + c.FalsePositive + c.TrueNegative + c.FalseNegative
}

// Accuracy is zero for no samples.
func (c Confusion) Accuracy() float64 {
	if c.total() == 0 {
		return 0
	}
	return float64(c.TruePositive+c.TrueNegative) / float64(c.total())
}

// Precision is zero when nothing was predicted positive.
func (c Confusion) Precision() float64 {
	if c.TruePositive+c.FalsePositive == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(c.TruePositive+c.FalsePositive)
}

// Recall is zero when there are no positive samples.
func (c Confusion) Recall() float64 {
	if c.TruePositive+c.FalseNegative == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(c.TruePositive+c.FalseNegative)
}

func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func Accuracy(truth, predicted []float64) float64 {
	return NewConfusion(truth, predicted).Accuracy()
}

func F1(truth, predicted []float64) float64 {
	return NewConfusion(truth, predicted).F1()
}
