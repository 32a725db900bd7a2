package knowledge

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Concept is one entry of a physics knowledge file.
type Concept struct {
	ID              string            `json:"id"`
	Topic           string            `json:"topic"`
	Concept         string            `json:"concept"`
	LatexEquations  []string          `json:"latex_equations"`
	Variables       map[string]string `json:"variables"`
	Explanation     string            `json:"explanation"`
	ManimVisualCues string            `json:"manim_visual_cues"`
}

// ReferenceDoc is one entry of a renderer documentation file.
type ReferenceDoc struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// LoadConcepts reads a JSON array of concepts into documents. The embedded
// text is "topic - concept: explanation".
func LoadConcepts(r io.Reader) ([]Document, error) {
	var concepts []Concept
	if err := json.NewDecoder(r).Decode(&concepts); err != nil {
		return nil, fmt.Errorf("decode concepts: %w", err)
	}
	docs := make([]Document, 0, len(concepts))
	for i, c := range concepts {
		if c.ID == "" {
			return nil, fmt.Errorf("concept %d has no id", i)
		}
		eq, _ := json.Marshal(c.LatexEquations)
		vars, _ := json.Marshal(c.Variables)
		docs = append(docs, Document{
			ID:   c.ID,
			Text: fmt.Sprintf("%s - %s: %s", c.Topic, c.Concept, c.Explanation),
			Metadata: map[string]string{
				"topic":             c.Topic,
				"concept":           c.Concept,
				"latex_equations":   string(eq),
				"variables":         string(vars),
				"explanation":       c.Explanation,
				"manim_visual_cues": c.ManimVisualCues,
			},
		})
	}
	return docs, nil
}

// LoadReferenceDocs reads a JSON array of documentation snippets.
func LoadReferenceDocs(r io.Reader) ([]Document, error) {
	var refs []ReferenceDoc
	if err := json.NewDecoder(r).Decode(&refs); err != nil {
		return nil, fmt.Errorf("decode reference docs: %w", err)
	}
	docs := make([]Document, 0, len(refs))
	for i, d := range refs {
		if d.ID == "" {
			return nil, fmt.Errorf("reference doc %d has no id", i)
		}
		text := strings.TrimSpace(d.Title + "\n" + d.Content)
		docs = append(docs, Document{
			ID:       d.ID,
			Text:     text,
			Metadata: map[string]string{"title": d.Title, "source": d.Source},
		})
	}
	return docs, nil
}
