package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearthkit/family-sync/internal/domain"
	"github.com/hearthkit/family-sync/internal/pkg/logger"
	"github.com/hearthkit/family-sync/internal/service/ingestion"
)

const (
	maxImages     = 5
	maxImageBytes = 3_750_000
	maxTextRunes  = 20_000
)

var supportedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Extractor implements ingestion.Extractor.
type Extractor struct {
	inv       Invoker
	modelID   string
	maxTokens int
}

// NewExtractor creates an extractor. An empty modelID uses
// DefaultExtractModel.
func NewExtractor(inv Invoker, modelID string) *Extractor {
	if modelID == "" {
		modelID = DefaultExtractModel
	}
	return &Extractor{inv: inv, modelID: modelID, maxTokens: 4000}
}

// rawDraft is the model's answer shape. Dates stay as text and are resolved
// against the extraction day here, never by the model.
type rawDraft struct {
	Title          string  `json:"title"`
	Date           string  `json:"date"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	Location       string  `json:"location"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	Person         string  `json:"person"`
	ActionRequired bool    `json:"action_required"`
	ActionDeadline string  `json:"action_deadline"`
	Confidence     float64 `json:"confidence"`
}

// Extract implements ingestion.Extractor.
func (x *Extractor) Extract(ctx context.Context, c ingestion.Content, ec ingestion.ExtractContext) ([]domain.EventDraft, error) {
	content := []ContentBlock{{Type: "text", Text: userPrompt(c, ec)}}
	images := 0
	for _, img := range c.Images {
		if images == maxImages || !supportedImages[img.MimeType] || len(img.Data) == 0 || len(img.Data) > maxImageBytes {
			continue
		}
		content = append(content, ContentBlock{
			Type: "image",
			Source: &ImageSource{
				Type:      "base64",
				MediaType: img.MimeType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
		images++
	}

	text, err := invoke(ctx, x.inv, x.modelID, systemPrompt(ec), content, x.maxTokens)
	if err != nil {
		return nil, err
	}
	return parseDrafts(text, ec)
}

func parseDrafts(text string, ec ingestion.ExtractContext) ([]domain.EventDraft, error) {
	payload, err := jsonPayload(text, '[', ']')
	if err != nil {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return nil, err
	}
	var raws []rawDraft
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		return nil, fmt.Errorf("failed to parse drafts: %w", err)
	}

	out := make([]domain.EventDraft, 0, len(raws))
	for _, r := range raws {
		d := domain.EventDraft{
			Title:          strings.TrimSpace(r.Title),
			StartTime:      r.StartTime,
			EndTime:        r.EndTime,
			Location:       strings.TrimSpace(r.Location),
			Description:    strings.TrimSpace(r.Description),
			Category:       strings.TrimSpace(r.Category),
			PersonTag:      strings.TrimSpace(r.Person),
			ActionRequired: r.ActionRequired,
			Confidence:     clampConfidence(r.Confidence),
		}
		// An unresolved date leaves Date zero; validation drops the draft.
		if date, err := ingestion.ResolveDate(r.Date, ec.Today); err == nil {
			d.Date = date
		} else {
			logger.Debug("draft date unresolved", "title", d.Title, "date", r.Date)
		}
		if r.ActionDeadline != "" {
			if dl, err := ingestion.ResolveDate(r.ActionDeadline, ec.Today); err == nil {
				d.ActionDeadline = &dl
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func systemPrompt(ec ingestion.ExtractContext) string {
	var sb strings.Builder
	sb.WriteString("You extract calendar events for a family from school, club and activity messages.\n")
	sb.WriteString("Today is " + domain.FormatDate(ec.Today) + " (" + ec.Today.Weekday().String() + ").\n")
	if len(ec.People) > 0 {
		sb.WriteString("The family tracks these people (name: nicknames):\n")
		for _, p := range ec.People {
			sb.WriteString("- " + p.Name)
			if len(p.Nicknames) > 0 {
				sb.WriteString(": " + strings.Join(p.Nicknames, ", "))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("Only return events for these people and set \"person\" to the matching name.\n")
	}
	sb.WriteString(`Return a JSON array and nothing else. One element per occurrence; a schedule listing several dates yields several elements.
Each element has: "title", "date" (YYYY-MM-DD when known, otherwise the wording used such as "next Tuesday"),
"start_time" and "end_time" (24h HH:MM or empty), "location", "description", "category"
(one of school, sports, music, medical, social, other), "person", "action_required" (true when a form,
payment or RSVP is needed), "action_deadline" (date or empty) and "confidence" between 0 and 1.
Return [] when the message contains no schedulable event.`)
	return sb.String()
}

func userPrompt(c ingestion.Content, ec ingestion.ExtractContext) string {
	text := c.Text
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}
	var sb strings.Builder
	if ec.Subject != "" {
		sb.WriteString("Subject: " + ec.Subject + "\n")
	}
	if ec.Sender != "" {
		sb.WriteString("From: " + ec.Sender + "\n")
	}
	sb.WriteString("\n" + text)
	return sb.String()
}
