package projection

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

type TSNEOptions struct {
	Perplexity   float64
	Dims         int
	Iterations   int
	LearningRate float64
	Seed         uint64
}

const (
	exaggeration     = 12.0
	perplexityTol    = 1e-5
	perplexitySteps  = 50
	minGain          = 0.01
	cancelCheckEvery = 50
)

// TSNE computes an exact t-SNE embedding. The run owns its random source, so
// equal input and seed give identical coordinates. Perplexity is clamped to
// (n-1)/3 for small inputs.
func TSNE(ctx context.Context, x [][]float64, opts TSNEOptions) ([][]float64, error) {
	n := len(x)
	dims := opts.Dims
	if dims <= 0 {
		dims = 3
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 1000
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 200
	}
	if n < 2 {
		return zeros(n, dims), nil
	}

	perplexity := opts.Perplexity
	if limit := float64(n-1) / 3; perplexity > limit {
		perplexity = math.Max(limit, 1)
	}

	p := jointProbabilities(squaredDistances(x), n, perplexity)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	y := make([]float64, n*dims)
	for i := range y {
		y[i] = rng.NormFloat64() * 1e-4
	}
	update := make([]float64, n*dims)
	gains := make([]float64, n*dims)
	for i := range gains {
		gains[i] = 1
	}
	grad := make([]float64, n*dims)
	num := make([]float64, n*n)
	stopLying := min(250, opts.Iterations/4)

	for it := 0; it < opts.Iterations; it++ {
		if it%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		exag, momentum := 1.0, 0.8
		if it < stopLying {
			exag, momentum = exaggeration, 0.5
		}

		sumQ := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				d := 0.0
				for k := 0; k < dims; k++ {
					diff := y[i*dims+k] - y[j*dims+k]
					d += diff * diff
				}
				q := 1 / (1 + d)
				num[i*n+j] = q
				num[j*n+i] = q
				sumQ += 2 * q
			}
		}
		sumQ = math.Max(sumQ, 1e-12)

		for i := range grad {
			grad[i] = 0
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := num[i*n+j]
				mult := (exag*p[i*n+j] - math.Max(q/sumQ, 1e-12)) * q
				for k := 0; k < dims; k++ {
					grad[i*dims+k] += 4 * mult * (y[i*dims+k] - y[j*dims+k])
				}
			}
		}

		for i := range y {
			if (grad[i] > 0) != (update[i] > 0) {
				gains[i] += 0.2
			} else {
				gains[i] *= 0.8
			}
			gains[i] = math.Max(gains[i], minGain)
			update[i] = momentum*update[i] - opts.LearningRate*gains[i]*grad[i]
			y[i] += update[i]
		}
		center(y, n, dims)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), y[i*dims:(i+1)*dims]...)
	}
	return out, nil
}

func squaredDistances(x [][]float64) []float64 {
	n := len(x)
	d := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := floats.Distance(x[i], x[j], 2)
			d[i*n+j] = v * v
			d[j*n+i] = v * v
		}
	}
	return d
}

// jointProbabilities finds per point Gaussian bandwidths matching the
// perplexity, then symmetrizes the conditional probabilities.
func jointProbabilities(d2 []float64, n int, perplexity float64) []float64 {
	cond := make([]float64, n*n)
	logU := math.Log(perplexity)
	row := make([]float64, n)

	for i := 0; i < n; i++ {
		minD := math.Inf(1)
		for j := 0; j < n; j++ {
			if j != i && d2[i*n+j] < minD {
				minD = d2[i*n+j]
			}
		}

		beta, betaMin, betaMax := 1.0, math.Inf(-1), math.Inf(1)
		for step := 0; step < perplexitySteps; step++ {
			sumP, sumDP := 0.0, 0.0
			for j := 0; j < n; j++ {
				if j == i {
					row[j] = 0
					continue
				}
				shifted := d2[i*n+j] - minD
				row[j] = math.Exp(-shifted * beta)
				sumP += row[j]
				sumDP += shifted * row[j]
			}
			sumP = math.Max(sumP, 1e-12)
			h := math.Log(sumP) + beta*sumDP/sumP
			for j := 0; j < n; j++ {
				row[j] /= sumP
			}

			diff := h - logU
			if math.Abs(diff) < perplexityTol {
				break
			}
			if diff > 0 {
				betaMin = beta
				if math.IsInf(betaMax, 1) {
					beta *= 2
				} else {
					beta = (beta + betaMax) / 2
				}
			} else {
				betaMax = beta
				if math.IsInf(betaMin, -1) {
					beta /= 2
				} else {
					beta = (beta + betaMin) / 2
				}
			}
		}
		copy(cond[i*n:(i+1)*n], row)
	}

	p := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := math.Max((cond[i*n+j]+cond[j*n+i])/(2*float64(n)), 1e-12)
			p[i*n+j] = v
			p[j*n+i] = v
		}
	}
	return p
}

func center(y []float64, n, dims int) {
	for k := 0; k < dims; k++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += y[i*dims+k]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			y[i*dims+k] -= mean
		}
	}
}
