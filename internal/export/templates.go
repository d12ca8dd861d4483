package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t any, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format(layout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.Format(layout)
			}
			return ""
		},
		"ratingLabel": ratingLabel,
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportHTML))
}

func ratingLabel(rating int) string {
	switch {
	case rating > 0:
		return "Satisfied"
	case rating < 0:
		return "Not satisfied"
	default:
		return "Neutral"
	}
}

// TemplateData holds data for report rendering.
type TemplateData struct {
	Concern ConcernInfo
	Reviews []ReviewInfo
}

// RenderReportHTML renders the concern report template.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Concern.Title}}</title>
<style>
  body { font-family: Georgia, serif; margin: 2rem; color: #1a1a1a; }
  h1 { font-size: 1.6rem; margin-bottom: 0.2rem; }
  .meta { color: #555; font-size: 0.9rem; margin-bottom: 1.5rem; }
  .status { text-transform: uppercase; letter-spacing: 0.05em; }
  .body { margin: 1rem 0 2rem; line-height: 1.5; }
  .review { border-top: 1px solid #ddd; padding: 0.6rem 0; }
  .review .who { font-weight: bold; }
  .system { color: #777; font-style: italic; }
</style>
</head>
<body>
  <h1>{{.Concern.Title}}</h1>
  <div class="meta">
    {{.Concern.Category}} · {{.Concern.Branch}} ·
    <span class="status">{{.Concern.Status}}</span><br>
    Raised by {{.Concern.Submitter}} on {{formatDate .Concern.CreatedAt "Jan 2, 2006"}}
    {{if .Concern.ResolvedAt}}· Resolved {{formatDate .Concern.ResolvedAt "Jan 2, 2006"}}{{end}}
  </div>
  <div class="body">{{.Concern.Body}}</div>
  {{if .Reviews}}
  <h2>Reviews</h2>
  {{range .Reviews}}
  <div class="review{{if .IsSystem}} system{{end}}">
    <span class="who">{{.Reviewer}}</span> — {{ratingLabel .Rating}}
    {{if .Comment}}<div>{{.Comment}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
