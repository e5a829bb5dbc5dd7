package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/augment"
	"github.com/xaenox/guildscribe/internal/models"
)

// Exporter writes the markdown and CSV artifacts of one snapshot under dir.
type Exporter struct {
	dir    string
	page   *template.Template
	logger *zap.Logger
}

type link struct {
	Label string
	Path  string
}

type page struct {
	Kind      models.Kind
	Name      string
	Route     string
	Analysis  *models.AiAnalysis
	Backlinks []link
	Children  []link
	Source    string
}

func (p page) Title() string {
	if p.Analysis != nil && p.Analysis.Title != "" {
		return p.Analysis.Title
	}
	return p.Name
}

var pageFuncs = template.FuncMap{
	"join": func(s []string, sep string) string { return strings.Join(s, sep) },
}

const pageTemplate = `# {{.Title}}

kind: {{.Kind}} · name: {{.Name}} · route: ` + "`{{.Route}}`" + `
{{with .Analysis}}
> {{.ExtremelyShortSummary}}

## Summary

{{.ShortSummary}}

{{.DetailedSummary}}
{{if .Highlights}}
## Highlights
{{range .Highlights}}
- {{.}}{{end}}
{{end}}{{if .TopicAreas}}
## Topic areas
{{range .TopicAreas}}
- {{.Path}}{{if .Description}}: {{.Description}}{{end}}{{end}}
{{end}}{{if .Tags}}
## Tags

{{join .Tags " "}}
{{end}}{{else}}
_No analysis yet._
{{end}}{{if .Backlinks}}
## Backlinks
{{range .Backlinks}}
- [{{.Label}}]({{.Path}}){{end}}
{{end}}{{if .Children}}
## Contents
{{range .Children}}
- [{{.Label}}]({{.Path}}){{end}}
{{end}}{{if .Source}}
## Source

` + "```" + `
{{.Source}}` + "```" + `
{{end}}`

func New(dir string, logger *zap.Logger) (*Exporter, error) {
	tmpl, err := template.New("page").Funcs(pageFuncs).Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &Exporter{dir: dir, page: tmpl, logger: logger}, nil
}

// Slug builds a file name from a display name and an id. The id keeps
// names that normalize to the same text apart.
func Slug(name, id string) string {
	s := strings.TrimPrefix(models.NormalizeTag(name), "#")
	if s == "untagged" {
		return id
	}
	return s + "-" + id
}

func docPath(kind models.Kind, name, id string) string {
	return filepath.ToSlash(filepath.Join(string(kind), Slug(name, id)+".md"))
}

// relative links from one kind directory into another
func rel(kind models.Kind, name, id string) string {
	return "../" + docPath(kind, name, id)
}

// Markdown regenerates one file per thread, channel and category and returns
// the number of files written.
func (e *Exporter) Markdown(snap *models.Snapshot) (int, error) {
	for _, kind := range []models.Kind{models.KindThread, models.KindChannel, models.KindCategory} {
		dir := filepath.Join(e.dir, string(kind))
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	written := 0
	for _, t := range snap.Threads {
		p := page{Kind: models.KindThread, Name: t.Name, Route: t.Route(), Analysis: t.Analysis(), Source: threadSource(t)}
		if ch := t.Channel; ch != nil {
			p.Backlinks = append(p.Backlinks, link{Label: "#" + ch.Name, Path: rel(models.KindChannel, ch.Name, ch.ID)})
			if c := ch.Category; c != nil {
				p.Backlinks = append(p.Backlinks, link{Label: c.Name, Path: rel(models.KindCategory, c.Name, c.ID)})
			}
		}
		if err := e.write(docPath(models.KindThread, t.Name, t.ID), p); err != nil {
			return written, err
		}
		written++
	}

	for _, ch := range snap.Channels {
		p := page{Kind: models.KindChannel, Name: ch.Name, Route: ch.Route(), Analysis: ch.Analysis(), Source: messagesSource(ch.Messages)}
		if c := ch.Category; c != nil {
			p.Backlinks = append(p.Backlinks, link{Label: c.Name, Path: rel(models.KindCategory, c.Name, c.ID)})
		}
		for _, t := range ch.Threads {
			p.Children = append(p.Children, link{Label: t.Name, Path: rel(models.KindThread, t.Name, t.ID)})
		}
		if err := e.write(docPath(models.KindChannel, ch.Name, ch.ID), p); err != nil {
			return written, err
		}
		written++
	}

	for _, c := range snap.Categories {
		p := page{Kind: models.KindCategory, Name: c.Name, Route: c.Route(), Analysis: c.Analysis()}
		for _, ch := range c.Channels {
			p.Children = append(p.Children, link{Label: "#" + ch.Name, Path: rel(models.KindChannel, ch.Name, ch.ID)})
		}
		if err := e.write(docPath(models.KindCategory, c.Name, c.ID), p); err != nil {
			return written, err
		}
		written++
	}

	e.logger.Info("Markdown exported", zap.String("dir", e.dir), zap.Int("files", written))
	return written, nil
}

func (e *Exporter) write(name string, p page) error {
	path := filepath.Join(e.dir, filepath.FromSlash(name))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := e.page.Execute(f, p); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

// threadSource renders the thread with each human message followed by the
// combined bot response it received.
func threadSource(t *models.Thread) string {
	var b strings.Builder
	for _, m := range t.Messages {
		if m.IsBot {
			continue
		}
		writeMessage(&b, m)
		if resp := augment.CombineBotMessages(t.Messages, m.ID); resp != "" {
			fmt.Fprintf(&b, "  bot:\n%s\n", indent(resp))
		}
	}
	return b.String()
}

func messagesSource(msgs []*models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		writeMessage(&b, m)
	}
	return b.String()
}

func writeMessage(b *strings.Builder, m *models.Message) {
	fmt.Fprintf(b, "[%s] %s: %s\n", m.Timestamp.UTC().Format("2006-01-02 15:04"), m.AuthorID, m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(b, "  attachment:\n%s\n", indent(a))
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
