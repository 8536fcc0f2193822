// internal/app/render.go
package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"workflow_digest/internal/domain/notification"
)

// TextRenderer renders a digest as a plain-text body plus a JSON payload
// for downstream mailers that apply their own templates.
type TextRenderer struct {
	SubjectPrefix string
}

type digestPayload struct {
	Address string         `json:"address"`
	Groups  []groupPayload `json:"groups"`
}

type groupPayload struct {
	Type     notification.TypeName `json:"type"`
	Template string                `json:"template"`
	Events   []eventPayload        `json:"events"`
}

type eventPayload struct {
	ID         int64                   `json:"id"`
	ObjectKind notification.ObjectKind `json:"object_kind"`
	ObjectID   int64                   `json:"object_id"`
	CreatedAt  string                  `json:"created_at"`
}

func (r TextRenderer) Render(d *notification.Digest) (*notification.RenderedDigest, error) {
	if d == nil || d.EventCount() == 0 {
		return nil, fmt.Errorf("empty digest")
	}

	prefix := r.SubjectPrefix
	if prefix == "" {
		prefix = "Workflow digest"
	}

	var body strings.Builder
	payload := digestPayload{Address: d.Address}
	for _, g := range d.Groups {
		t, ok := notification.LookupType(g.Type)
		if !ok {
			return nil, fmt.Errorf("unknown notification type %q", g.Type)
		}
		fmt.Fprintf(&body, "%s (%d)\n", t.Title, len(g.Events))

		gp := groupPayload{Type: t.Name, Template: t.Template}
		for _, ev := range g.Events {
			fmt.Fprintf(&body, "  - %s\n", ev.Object)
			gp.Events = append(gp.Events, eventPayload{
				ID:         ev.ID,
				ObjectKind: ev.Object.Kind,
				ObjectID:   ev.Object.ID,
				CreatedAt:  ev.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		body.WriteString("\n")
		payload.Groups = append(payload.Groups, gp)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode digest payload: %w", err)
	}
	return &notification.RenderedDigest{
		Subject: fmt.Sprintf("%s: %d update(s)", prefix, d.EventCount()),
		Body:    strings.TrimRight(body.String(), "\n") + "\n",
		Payload: raw,
	}, nil
}
