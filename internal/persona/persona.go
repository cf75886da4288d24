// Package persona holds the catalog of system-prompt presets: a fixed set of
// built-in personas plus user-defined ones kept in the store.
package persona

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
)

// DefaultID is the persona used when none is selected.
const DefaultID = "default"

// Persona is a named system-prompt preset.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	Icon         string `json:"icon,omitempty"`
	BuiltIn      bool   `json:"isBuiltIn"`
}

// ErrBuiltIn is returned when trying to modify a built-in persona.
var ErrBuiltIn = errors.New("persona: built-in personas cannot be changed")

// Store persists user-defined personas.
type Store interface {
	ListPersonas(ctx context.Context) ([]Persona, error)
	GetPersona(ctx context.Context, id string) (*Persona, error)
	SavePersona(ctx context.Context, p Persona) error
	DeletePersona(ctx context.Context, id string) error
}

var builtIns = []Persona{
	{
		ID:   DefaultID,
		Name: "Assistant",
		Icon: "💬",
		SystemPrompt: "You are a helpful assistant embedded in the user's browser. " +
			"When page content is provided, ground your answer in it and say so when the page does not contain the answer.",
	},
	{
		ID:   "summarizer",
		Name: "Summarizer",
		Icon: "📝",
		SystemPrompt: "Summarize the provided page or selection. Lead with a one-sentence overview, " +
			"then list the key points as short bullets. Do not add facts that are not in the text.",
	},
	{
		ID:   "explainer",
		Name: "Explainer",
		Icon: "🎓",
		SystemPrompt: "Explain the provided text in plain language for a non-expert. " +
			"Define jargon the first time it appears and use a short example where it helps.",
	},
	{
		ID:   "translator",
		Name: "Translator",
		Icon: "🌐",
		SystemPrompt: "Translate the provided text into the language the user asks for, or into English if none is given. " +
			"Preserve formatting and do not add commentary.",
	},
	{
		ID:           "coder",
		Name:         "Code Reviewer",
		Icon:         "🧑‍💻",
		SystemPrompt: "You review code found on web pages. Point out bugs and risky constructs first, then suggest concrete fixes.",
	},
}

// Catalog resolves persona ids against the built-ins and the store.
type Catalog struct {
	store Store
}

// NewCatalog creates a catalog. store may be nil, in which case only
// built-in personas are available.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// BuiltIns returns a copy of the built-in personas.
func BuiltIns() []Persona {
	out := make([]Persona, len(builtIns))
	for i, p := range builtIns {
		p.BuiltIn = true
		out[i] = p
	}
	return out
}

// Get looks up a persona by id.
func (c *Catalog) Get(ctx context.Context, id string) (*Persona, bool) {
	for _, p := range BuiltIns() {
		if p.ID == id {
			return &p, true
		}
	}
	if c.store == nil || id == "" {
		return nil, false
	}
	p, err := c.store.GetPersona(ctx, id)
	if err != nil || p == nil {
		return nil, false
	}
	return p, true
}

// SystemPrompt returns the system prompt of persona id, or "" if unknown.
func (c *Catalog) SystemPrompt(ctx context.Context, id string) string {
	p, ok := c.Get(ctx, id)
	if !ok {
		if id != "" {
			log.Printf("[persona] unknown persona %q, using none", id)
		}
		return ""
	}
	return p.SystemPrompt
}

// List returns built-in personas first, then user personas by name.
func (c *Catalog) List(ctx context.Context) ([]Persona, error) {
	out := BuiltIns()
	if c.store == nil {
		return out, nil
	}
	user, err := c.store.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(user, func(i, j int) bool {
		return strings.ToLower(user[i].Name) < strings.ToLower(user[j].Name)
	})
	return append(out, user...), nil
}

// Save creates or updates a user persona.
func (c *Catalog) Save(ctx context.Context, p Persona) error {
	if isBuiltIn(p.ID) {
		return ErrBuiltIn
	}
	if c.store == nil {
		return errors.New("persona: no store configured")
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return errors.New("persona: id and name are required")
	}
	p.BuiltIn = false
	return c.store.SavePersona(ctx, p)
}

// Delete removes a user persona.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if isBuiltIn(id) {
		return ErrBuiltIn
	}
	if c.store == nil {
		return nil
	}
	return c.store.DeletePersona(ctx, id)
}

func isBuiltIn(id string) bool {
	for _, p := range builtIns {
		if p.ID == id {
			return true
		}
	}
	return false
}
