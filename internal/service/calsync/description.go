package calsync

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/hearthkit/family-sync/internal/domain"
)

// MetadataMarker heads the block appended to pushed descriptions. Pull
// strips everything from the marker on before comparing.
const MetadataMarker = "--- family-sync ---"

// Absent bindings are nil and falsy; an empty string would render.
const metadataTemplate = `{% if person %}For: {{ person }}
{% endif %}{% if category %}Category: {{ category }}
{% endif %}{% if action %}Action required{% if deadline %} by {{ deadline }}{% endif %}
{% endif %}{% if subject %}From email: {{ subject }}
{% endif %}`

// Composer renders external descriptions.
type Composer struct {
	tpl *liquid.Template
}

// NewComposer parses the metadata template.
func NewComposer() (*Composer, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(metadataTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse metadata template: %w", err)
	}
	return &Composer{tpl: tpl}, nil
}

// Compose returns the event description followed by the metadata block.
// The block is omitted when the event has no metadata.
func (c *Composer) Compose(e *domain.Event) (string, error) {
	bindings := map[string]interface{}{}
	if e.PersonTag != "" {
		bindings["person"] = e.PersonTag
	}
	if e.Category != "" {
		bindings["category"] = e.Category
	}
	if e.RequiresAction {
		bindings["action"] = true
		if e.ActionDeadline != nil {
			bindings["deadline"] = domain.FormatDate(*e.ActionDeadline)
		}
	}
	if e.Source != nil && e.Source.Subject != "" {
		bindings["subject"] = e.Source.Subject
	}

	desc := strings.TrimSpace(e.Description)
	if len(bindings) == 0 {
		return desc, nil
	}

	out, err := c.tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render metadata: %w", err)
	}
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	block := MetadataMarker + "\n" + strings.Join(lines, "\n")
	if desc == "" {
		return block, nil
	}
	return desc + "\n\n" + block, nil
}

// StripMetadata removes the metadata block from an external description.
func StripMetadata(description string) string {
	if i := strings.Index(description, MetadataMarker); i >= 0 {
		description = description[:i]
	}
	return strings.TrimSpace(description)
}
