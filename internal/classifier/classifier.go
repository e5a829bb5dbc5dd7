package classifier

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// UnitAnalyzer produces an analysis for the text of one unit.
type UnitAnalyzer interface {
	Analyze(ctx context.Context, systemPrompt, text string) (*AnalysisResult, int, error)
	Model() string
}

var (
	_ UnitAnalyzer = (*Analyzer)(nil)
	_ UnitAnalyzer = (*SimpleClassifier)(nil)
)

const summaryRunes = 280

// SimpleClassifier tags content by hashtags and keywords without calling a
// model. Used for offline runs.
type SimpleClassifier struct {
	maxTags int
}

func NewSimpleClassifier(maxTags int) *SimpleClassifier {
	return &SimpleClassifier{
		maxTags: maxTags,
	}
}

var keywordTags = map[string][]string{
	"help":        {"help", "how do i", "how to", "stuck", "question"},
	"bug":         {"bug", "error", "crash", "broken", "fails", "exception", "panic"},
	"feature":     {"feature", "idea", "proposal", "would be nice", "request"},
	"release":     {"release", "version", "changelog", "upgrade"},
	"deployment":  {"deploy", "docker", "kubernetes", "server", "hosting"},
	"performance": {"slow", "latency", "memory", "cpu", "performance"},
	"community":   {"welcome", "thanks", "event", "meetup", "introduce"},
}

// ClassifyContent extracts hashtags and keyword categories.
func (c *SimpleClassifier) ClassifyContent(content string) []string {
	words := strings.Fields(content)
	tags := make(map[string]struct{})

	// Extract hashtags
	for _, word := range words {
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			tags[strings.ToLower(strings.TrimRight(word, ".,!?:;"))] = struct{}{}
		}
	}

	content = strings.ToLower(content)
	for category, keywords := range keywordTags {
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				tags[category] = struct{}{}
				break
			}
		}
	}

	result := make([]string, 0, len(tags))
	for tag := range tags {
		result = append(result, tag)
	}
	sort.Strings(result)

	if c.maxTags > 0 && len(result) > c.maxTags {
		result = result[:c.maxTags]
	}
	return result
}

func (c *SimpleClassifier) Model() string {
	return "keywords"
}

// Analyze builds a result from the text itself: the heading as title, the
// opening text as summary and keyword tags.
func (c *SimpleClassifier) Analyze(ctx context.Context, systemPrompt, text string) (*AnalysisResult, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, ErrEmptyText
	}

	var title string
	var body []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if title == "" && strings.HasPrefix(line, "#") {
			title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		body = append(body, line)
	}
	summary := truncate(strings.Join(body, " "), summaryRunes)

	return &AnalysisResult{
		Title:                 title,
		ExtremelyShortSummary: truncate(summary, summaryRunes/4),
		ShortSummary:          summary,
		DetailedSummary:       summary,
		Tags:                  c.ClassifyContent(text),
	}, 1, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
