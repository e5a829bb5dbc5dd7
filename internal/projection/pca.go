package projection

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrPCAFailed = errors.New("principal component analysis did not converge")

// PCA projects the rows of x onto their top k principal components. Rows
// always have k columns; components beyond the rank of x are zero. Each
// component is oriented so its largest loading is positive, which makes the
// output independent of the SVD's sign choice.
func PCA(x [][]float64, k int) ([][]float64, error) {
	n := len(x)
	out := zeros(n, k)
	if n < 2 || k <= 0 {
		return out, nil
	}
	d := len(x[0])

	data := mat.NewDense(n, d, nil)
	for i, row := range x {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, ErrPCAFailed
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, cols := vecs.Dims()
	avail := min(k, cols, n-1)
	if avail <= 0 {
		return out, nil
	}

	means := make([]float64, d)
	for j := 0; j < d; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	centered := mat.NewDense(n, d, nil)
	centered.Apply(func(i, j int, v float64) float64 { return v - means[j] }, data)

	basis := mat.DenseCopyOf(vecs.Slice(0, d, 0, avail))
	for j := 0; j < avail; j++ {
		best, bestAbs := 0.0, -1.0
		for i := 0; i < d; i++ {
			if v := basis.At(i, j); math.Abs(v) > bestAbs {
				best, bestAbs = v, math.Abs(v)
			}
		}
		if best < 0 {
			for i := 0; i < d; i++ {
				basis.Set(i, j, -basis.At(i, j))
			}
		}
	}

	var proj mat.Dense
	proj.Mul(centered, basis)
	for i := 0; i < n; i++ {
		for j := 0; j < avail; j++ {
			out[i][j] = proj.At(i, j)
		}
	}
	return out, nil
}

func zeros(n, k int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, max(k, 0))
	}
	return out
}
