package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts predictions per true class: rows are true labels,
// columns predicted ones. Out-of-range labels are ignored.
func ConfusionMatrix(classes int, labels, predictions []int) *mat.Dense {
	cm := mat.NewDense(classes, classes, nil)
	for i, y := range labels {
		if i >= len(predictions) {
			break
		}
		p := predictions[i]
		if y < 0 || y >= classes || p < 0 || p >= classes {
			continue
		}
		cm.Set(y, p, cm.At(y, p)+1)
	}
	return cm
}

// FormatConfusion renders a confusion matrix for logging.
func FormatConfusion(cm *mat.Dense) string {
	return fmt.Sprintf("%v", mat.Formatted(cm, mat.Squeeze()))
}
