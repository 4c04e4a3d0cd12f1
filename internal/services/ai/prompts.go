package ai

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// PromptVersion identifies the prompt asset set. It is logged with every call so
// output changes can be traced to a prompt revision.
const PromptVersion = "2024-07-r3"

// MaxLocationQueryLength bounds the free-text location placed in the venue prompt.
const MaxLocationQueryLength = 200

//go:embed prompts/*.txt
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "prompts/*.txt"))

type promptData struct {
	Language string
	Location string
}

func renderPrompt(file string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, file, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", file, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// cleanLocation keeps the query on one line, drops quotes that would break out of
// the prompt's quoted string, and truncates it.
func cleanLocation(q string) string {
	q = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		case '"', '`':
			return -1
		}
		return r
	}, q)
	q = strings.Join(strings.Fields(q), " ")
	if r := []rune(q); len(r) > MaxLocationQueryLength {
		q = string(r[:MaxLocationQueryLength])
	}
	return q
}
