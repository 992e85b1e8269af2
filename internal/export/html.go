// ABOUTME: Renders a conversation transcript to a standalone HTML document.
// ABOUTME: Assistant messages are markdown (goldmark); user messages are escaped verbatim.

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/isugar150/query-bot/internal/api"
)

// Transcript is the input for one export.
type Transcript struct {
	SessionID int64
	Title     string
	Entries   []api.Entry
	Artifact  *api.ArtifactLink
}

type renderedEntry struct {
	Role      string
	Body      template.HTML
	Timestamp string
}

type page struct {
	Title       string
	SessionID   int64
	ArtifactURL string
	Entries     []renderedEntry
	ExportedAt  string
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.entry { border: 1px solid #ddd; border-radius: 6px; padding: 0.75rem 1rem; margin: 0.75rem 0; }
.entry.user { background: #eef7f6; }
.entry.assistant { background: #f7f5fb; }
.entry .meta { font-size: 0.8rem; color: #666; margin-bottom: 0.4rem; }
.entry pre { background: #1e1e1e; color: #eee; padding: 0.75rem; overflow-x: auto; border-radius: 4px; }
footer { font-size: 0.8rem; color: #888; margin-top: 2rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .ArtifactURL}}<p>Saved card: <a href="{{.ArtifactURL}}">{{.ArtifactURL}}</a></p>{{end}}
{{range .Entries}}
<div class="entry {{.Role}}">
<div class="meta">{{.Role}} · {{.Timestamp}}</div>
{{.Body}}
</div>
{{end}}
<footer>Session {{.SessionID}} · exported {{.ExportedAt}}</footer>
</body>
</html>
`))

// WriteHTML renders the transcript to w as a self-contained HTML page.
func WriteHTML(w io.Writer, transcript *Transcript) error {
	title := transcript.Title
	if title == "" {
		title = fmt.Sprintf("Conversation %d", transcript.SessionID)
	}

	p := page{
		Title:      title,
		SessionID:  transcript.SessionID,
		ExportedAt: time.Now().Format("2006-01-02 15:04"),
	}
	if transcript.Artifact != nil {
		p.ArtifactURL = transcript.Artifact.URL
	}

	for _, e := range transcript.Entries {
		rendered := renderedEntry{
			Timestamp: e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		}
		switch e.Role {
		case api.RoleAssistant:
			rendered.Role = "assistant"
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(e.Content), &buf); err != nil {
				return fmt.Errorf("rendering markdown: %w", err)
			}
			rendered.Body = template.HTML(buf.String())
		default:
			rendered.Role = "user"
			rendered.Body = template.HTML("<p>" + template.HTMLEscapeString(e.Content) + "</p>")
		}
		p.Entries = append(p.Entries, rendered)
	}

	return transcriptTemplate.Execute(w, p)
}
