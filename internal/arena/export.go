package arena

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"
)

// Export formats for an archived debate artifact.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatHTML = "html"
)

// Tables selectable for CSV export. Empty selects all record types.
const (
	TableMessages  = "messages"
	TableVotes     = "votes"
	TableCritiques = "critiques"
)

// Export renders the artifact in the requested format and returns the body
// with its content type. The table selector narrows CSV output to one
// record type and is ignored by the other formats.
func Export(result *Result, format, table string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode artifact: %v", err)
		}
		return body, "application/json", nil
	case FormatCSV:
		body, err := exportCSV(result, strings.ToLower(table))
		return body, "text/csv", err
	case FormatHTML:
		body, err := exportHTML(result)
		return body, "text/html; charset=utf-8", err
	default:
		return nil, "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportCSV flattens the selected record types into one table with a
// record-type discriminator column.
func exportCSV(result *Result, table string) ([]byte, error) {
	switch table {
	case "", TableMessages, TableVotes, TableCritiques:
	default:
		return nil, fmt.Errorf("unsupported export table: %s", table)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"record", "round", "agent", "target", "content", "value"}); err != nil {
		return nil, err
	}
	if table == "" || table == TableMessages {
		for _, m := range result.Messages {
			if err := w.Write([]string{"message", strconv.Itoa(m.Round), m.Agent, "", m.Content, string(m.Role)}); err != nil {
				return nil, err
			}
		}
	}
	if table == "" || table == TableCritiques {
		for _, c := range result.Critiques {
			content := strings.Join(append(append([]string{}, c.Issues...), c.Suggestions...), "; ")
			severity := strconv.FormatFloat(c.Severity, 'f', 2, 64)
			if err := w.Write([]string{"critique", "", c.Agent, c.TargetAgent, content, severity}); err != nil {
				return nil, err
			}
		}
	}
	if table == "" || table == TableVotes {
		for _, rv := range result.Votes {
			for _, v := range rv.Votes {
				confidence := strconv.FormatFloat(v.Confidence, 'f', 2, 64)
				if err := w.Write([]string{"vote", strconv.Itoa(rv.Round), v.Agent, v.Choice, v.Reasoning, confidence}); err != nil {
					return nil, err
				}
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

var htmlTemplate = template.Must(template.New("debate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Task}}</title></head>
<body>
<h1>{{.Task}}</h1>
<p>Winner: <b>{{if .Winner}}{{.Winner}}{{else}}none{{end}}</b>
 | Rounds: {{.RoundsUsed}} | Outcome: {{.Outcome}}
 | Confidence: {{printf "%.2f" .Confidence}}</p>
{{if .FinalAnswer}}<h2>Final answer</h2><blockquote>{{.FinalAnswer}}</blockquote>{{end}}
<h2>Transcript</h2>
{{range .Messages}}<p><b>[round {{.Round}}] {{.Agent}}</b> ({{.Role}})<br>{{.Content}}</p>
{{end}}
<h2>Votes</h2>
{{range .Votes}}<h3>Round {{.Round}}</h3><ul>
{{range .Votes}}<li><b>{{.Agent}}</b> &rarr; {{.Choice}} ({{printf "%.2f" .Confidence}}): {{.Reasoning}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`))

func exportHTML(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, result); err != nil {
		return nil, fmt.Errorf("failed to render artifact: %v", err)
	}
	return buf.Bytes(), nil
}
