package web

import (
	"fmt"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/xaenox/guildscribe/internal/augment"
	"github.com/xaenox/guildscribe/internal/models"
)

const histogramBins = 10

// Method selects which projection an embedding chart plots.
type Method string

const (
	MethodTSNE Method = "tsne"
	MethodUMAP Method = "umap"
	MethodPCA  Method = "pca"
)

// histogram buckets values into at most bins equal width ranges.
func histogram(values []int, bins int) ([]string, []int) {
	if len(values) == 0 || bins <= 0 {
		return nil, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	width := max((hi-lo+bins)/bins, 1)
	n := (hi-lo)/width + 1

	labels := make([]string, n)
	counts := make([]int, n)
	for i := range labels {
		from := lo + i*width
		if width == 1 {
			labels[i] = fmt.Sprint(from)
		} else {
			labels[i] = fmt.Sprintf("%d-%d", from, from+width-1)
		}
	}
	for _, v := range values {
		counts[(v-lo)/width]++
	}
	return labels, counts
}

func barChart(title, series string, labels []string, counts []int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title}),
	)
	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}
	bar.SetXAxis(labels).AddSeries(series, data)
	return bar
}

// StatsPage renders the message and word distributions plus the cumulative
// activity line.
func StatsPage(snap *models.Snapshot) *components.Page {
	threadStats := augment.ThreadStats(snap.Threads)
	perThread := make([]int, len(threadStats))
	for i, s := range threadStats {
		perThread[i] = s.Messages
	}
	var perUser []int
	for _, s := range augment.UserStats(snap.Users) {
		if !s.IsBot {
			perUser = append(perUser, s.Words)
		}
	}

	page := components.NewPage()
	page.PageTitle = "guildscribe statistics"

	labels, counts := histogram(perThread, histogramBins)
	page.AddCharts(barChart("Messages per thread", "threads", labels, counts))
	labels, counts = histogram(perUser, histogramBins)
	page.AddCharts(barChart("Words per user", "users", labels, counts))

	series := augment.CumulativeSeries(snap.Messages, snap.Threads)
	days := make([]string, len(series))
	msgs := make([]opts.LineData, len(series))
	threads := make([]opts.LineData, len(series))
	for i, p := range series {
		days[i] = p.Day.Format("2006-01-02")
		msgs[i] = opts.LineData{Value: p.Messages}
		threads[i] = opts.LineData{Value: p.Threads}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Cumulative activity"}))
	line.SetXAxis(days).
		AddSeries("messages", msgs).
		AddSeries("threads", threads)
	page.AddCharts(line)
	return page
}

// ProjectionKeys lists the parameter keys available for a method, sorted.
func ProjectionKeys(items []*models.EmbeddableItem, method Method) []string {
	seen := map[string]struct{}{}
	for _, it := range items {
		p := it.Projections.Data()
		var m map[string]models.Point3
		switch method {
		case MethodTSNE:
			m = p.TSNE
		case MethodUMAP:
			m = p.UMAP
		}
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EmbeddingChart plots one projection of a batch. PCA plots the first three
// components; param is ignored for it.
func EmbeddingChart(kind models.ItemKind, method Method, param string, items []*models.EmbeddableItem) (*charts.Scatter3D, error) {
	data := make([]opts.Chart3DData, 0, len(items))
	for _, it := range items {
		p := it.Projections.Data()
		var pt models.Point3
		var ok bool
		switch method {
		case MethodTSNE:
			pt, ok = p.TSNE[param]
		case MethodUMAP:
			pt, ok = p.UMAP[param]
		case MethodPCA:
			ok = len(p.PCA) > 0
			pt = pcaPoint(p.PCA)
		default:
			return nil, fmt.Errorf("unknown projection method %q", method)
		}
		if !ok {
			continue
		}
		data = append(data, opts.Chart3DData{Name: it.Label, Value: []interface{}{pt.X, pt.Y, pt.Z}})
	}
	if len(items) > 0 && len(data) == 0 {
		return nil, fmt.Errorf("no %s projection %q for %s", method, param, kind)
	}

	title := fmt.Sprintf("%s %s", kind, method)
	if method != MethodPCA {
		title += " " + param
	}
	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d items", len(data))}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "800px"}),
	)
	scatter.AddSeries(string(kind), data)
	return scatter, nil
}

func pcaPoint(v []float64) models.Point3 {
	var pt models.Point3
	if len(v) > 0 {
		pt.X = v[0]
	}
	if len(v) > 1 {
		pt.Y = v[1]
	}
	if len(v) > 2 {
		pt.Z = v[2]
	}
	return pt
}
