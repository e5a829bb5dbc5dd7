package projection

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

type UMAPOptions struct {
	NNeighbors      int
	MinDist         float64
	Spread          float64
	Dims            int
	Epochs          int
	NegativeSamples int
	Seed            uint64
}

const (
	initScale   = 10.0
	gradClip    = 4.0
	sigmaSteps  = 64
	sigmaTol    = 1e-5
	curvePoints = 300
)

type edge struct {
	i, j   int
	weight float64
}

// UMAP embeds x by building the fuzzy k-nearest-neighbour graph and
// optimising its layout with negative sampling SGD, starting from the PCA
// projection. The run owns its random source.
func UMAP(ctx context.Context, x [][]float64, opts UMAPOptions) ([][]float64, error) {
	n := len(x)
	dims := opts.Dims
	if dims <= 0 {
		dims = 3
	}
	if opts.Spread <= 0 {
		opts.Spread = 1
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if opts.NegativeSamples <= 0 {
		opts.NegativeSamples = 5
	}
	if n < 2 {
		return zeros(n, dims), nil
	}
	k := min(max(opts.NNeighbors, 2), n-1)

	edges := fuzzyGraph(x, k)
	a, b := curveParams(opts.Spread, opts.MinDist)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	y, err := initialLayout(x, dims, rng)
	if err != nil {
		return nil, err
	}

	maxW := 0.0
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}
	epochsPerSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	for i, e := range edges {
		epochsPerSample[i] = maxW / e.weight
		nextSample[i] = epochsPerSample[i]
	}

	diff := make([]float64, dims)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if epoch%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		alpha := 1 - float64(epoch)/float64(opts.Epochs)

		for ei, e := range edges {
			if nextSample[ei] > float64(epoch+1) {
				continue
			}
			yi, yj := y[e.i], y[e.j]
			d2 := sqDist(yi, yj, diff)
			if d2 > 0 {
				coef := -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
				for c := 0; c < dims; c++ {
					g := clip(coef*diff[c]) * alpha
					yi[c] += g
					yj[c] -= g
				}
			}
			nextSample[ei] += epochsPerSample[ei]

			for s := 0; s < opts.NegativeSamples; s++ {
				other := rng.IntN(n)
				if other == e.i {
					continue
				}
				d2 := sqDist(yi, y[other], diff)
				if d2 <= 0 {
					continue
				}
				coef := 2 * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1))
				for c := 0; c < dims; c++ {
					yi[c] += clip(coef*diff[c]) * alpha
				}
			}
		}
	}
	return y, nil
}

// fuzzyGraph returns the symmetrized membership strengths of the k nearest
// neighbour graph, sorted by endpoint.
func fuzzyGraph(x [][]float64, k int) []edge {
	n := len(x)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(x[i], x[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	directed := make(map[[2]int]float64, n*k)
	target := math.Log2(float64(k))
	idx := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		idx = idx[:0]
		for j := 0; j < n; j++ {
			if j != i {
				idx = append(idx, j)
			}
		}
		row := dist[i]
		sort.SliceStable(idx, func(p, q int) bool { return row[idx[p]] < row[idx[q]] })
		neighbors := idx[:k]

		rho := row[neighbors[0]]
		mean := 0.0
		for _, j := range neighbors {
			mean += row[j]
		}
		mean /= float64(k)

		lo, hi, sigma := 0.0, math.Inf(1), 1.0
		for step := 0; step < sigmaSteps; step++ {
			sum := 0.0
			for _, j := range neighbors {
				sum += math.Exp(-math.Max(0, row[j]-rho) / sigma)
			}
			if math.Abs(sum-target) < sigmaTol {
				break
			}
			if sum > target {
				hi = sigma
				sigma = (lo + hi) / 2
			} else {
				lo = sigma
				if math.IsInf(hi, 1) {
					sigma *= 2
				} else {
					sigma = (lo + hi) / 2
				}
			}
		}
		sigma = math.Max(sigma, 1e-3*mean)

		for _, j := range neighbors {
			directed[[2]int{i, j}] = math.Exp(-math.Max(0, row[j]-rho) / math.Max(sigma, 1e-12))
		}
	}

	var edges []edge
	for key, w := range directed {
		i, j := key[0], key[1]
		back, ok := directed[[2]int{j, i}]
		if ok && j < i {
			continue
		}
		weight := w + back - w*back
		if weight <= 0 {
			continue
		}
		if i > j {
			i, j = j, i
		}
		edges = append(edges, edge{i: i, j: j, weight: weight})
	}
	sort.Slice(edges, func(p, q int) bool {
		if edges[p].i != edges[q].i {
			return edges[p].i < edges[q].i
		}
		return edges[p].j < edges[q].j
	})
	return edges
}

// initialLayout scales the PCA projection into [-10, 10] and adds a little
// noise so coincident points separate.
func initialLayout(x [][]float64, dims int, rng *rand.Rand) ([][]float64, error) {
	y, err := PCA(x, dims)
	if err != nil {
		return nil, err
	}
	for c := 0; c < dims; c++ {
		maxAbs := 0.0
		for i := range y {
			maxAbs = math.Max(maxAbs, math.Abs(y[i][c]))
		}
		for i := range y {
			if maxAbs > 0 {
				y[i][c] = y[i][c] / maxAbs * initScale
			}
			y[i][c] += rng.NormFloat64() * 1e-4
		}
	}
	return y, nil
}

var (
	curveMu    sync.Mutex
	curveCache = make(map[[2]float64][2]float64)
)

// curveParams fits a and b of 1/(1+a*d^(2b)) to the target membership curve
// of spread and minDist by least squares over a refined grid.
func curveParams(spread, minDist float64) (float64, float64) {
	key := [2]float64{spread, minDist}
	curveMu.Lock()
	defer curveMu.Unlock()
	if ab, ok := curveCache[key]; ok {
		return ab[0], ab[1]
	}

	xs := make([]float64, curvePoints)
	ys := make([]float64, curvePoints)
	floats.Span(xs, 0, 3*spread)
	for i, x := range xs {
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}
	sse := func(a, b float64) float64 {
		s := 0.0
		for i, x := range xs {
			r := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			s += r * r
		}
		return s
	}

	logA, bestB := 0.0, 1.0
	logLo, logHi, bLo, bHi := math.Log(0.01), math.Log(100), 0.1, 3.0
	for round := 0; round < 4; round++ {
		best := math.Inf(1)
		const steps = 40
		for p := 0; p <= steps; p++ {
			la := logLo + (logHi-logLo)*float64(p)/steps
			for q := 0; q <= steps; q++ {
				bb := bLo + (bHi-bLo)*float64(q)/steps
				if s := sse(math.Exp(la), bb); s < best {
					best, logA, bestB = s, la, bb
				}
			}
		}
		stepA, stepB := 2*(logHi-logLo)/steps, 2*(bHi-bLo)/steps
		logLo, logHi = logA-stepA, logA+stepA
		bLo, bHi = math.Max(bestB-stepB, 0.01), bestB+stepB
	}

	a := math.Exp(logA)
	curveCache[key] = [2]float64{a, bestB}
	return a, bestB
}

func sqDist(a, b, diff []float64) float64 {
	s := 0.0
	for i := range a {
		diff[i] = a[i] - b[i]
		s += diff[i] * diff[i]
	}
	return s
}

func clip(v float64) float64 {
	return math.Max(-gradClip, math.Min(gradClip, v))
}
