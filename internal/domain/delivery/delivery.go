// Package delivery defines the template catalog and the template vs
// free-form representation rule imposed by provider messaging windows.
package delivery

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies outbound content for template matching.
type Category string

const (
	CategoryVerifiedAnswer  Category = "verified_answer"
	CategoryCorrectedAnswer Category = "corrected_answer"
	CategoryApology         Category = "apology"
	CategoryStillWorking    Category = "still_working"
	CategoryPleaseWait      Category = "please_wait"
	CategoryReEngagement    Category = "re_engagement"
	// CategoryGeneric is the minimal fallback when no template matches.
	CategoryGeneric Category = "generic"
)

// Template is a pre-approved message format. Outside a provider's
// free-form window only templates may be sent, and only the whitelisted
// slots may vary.
type Template struct {
	Name     string   `yaml:"name" json:"name"`
	Category Category `yaml:"category" json:"category"`
	Language string   `yaml:"language" json:"language"`
	Body     string   `yaml:"body" json:"body"` // slots as {slot_name}
	Slots    []string `yaml:"slots" json:"slots"`
}

// Catalog holds the configured templates, keyed by category and language.
type Catalog struct {
	templates []Template
}

var (
	ErrEmptyCatalog      = errors.New("template catalog is empty")
	ErrNoGenericFallback = errors.New("template catalog has no generic template")
)

// NewCatalog validates the template set. A generic template must exist
// so NoTemplateAvailable can always fall back.
func NewCatalog(templates []Template) (*Catalog, error) {
	if len(templates) == 0 {
		return nil, ErrEmptyCatalog
	}
	hasGeneric := false
	for _, t := range templates {
		if t.Name == "" || t.Body == "" {
			return nil, fmt.Errorf("template %q: name and body are required", t.Name)
		}
		if t.Category == CategoryGeneric {
			hasGeneric = true
		}
	}
	if !hasGeneric {
		return nil, ErrNoGenericFallback
	}
	return &Catalog{templates: templates}, nil
}

// Match returns the nearest template for the category and language:
// exact category+language, then category in any language. Returns
// ErrNoTemplateAvailable when the category has no template at all.
func (c *Catalog) Match(category Category, language string) (Template, error) {
	var fallback *Template
	for i, t := range c.templates {
		if t.Category != category {
			continue
		}
		if t.Language == language {
			return t, nil
		}
		if fallback == nil {
			fallback = &c.templates[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Template{}, fmt.Errorf("category %s: no template available", category)
}

// Generic returns the minimal generic template for the language.
func (c *Catalog) Generic(language string) Template {
	t, err := c.Match(CategoryGeneric, language)
	if err != nil {
		// NewCatalog guarantees a generic template exists.
		panic("delivery: generic template missing")
	}
	return t
}

// Render substitutes whitelisted slots into the template body. Values
// for non-whitelisted keys are ignored; missing values render empty.
func (t Template) Render(vars map[string]string) string {
	body := t.Body
	for _, slot := range t.Slots {
		body = strings.ReplaceAll(body, "{"+slot+"}", vars[slot])
	}
	return body
}

// Decision is the ephemeral send-time choice between template and
// free-form representation. It is never persisted directly; the chosen
// representation is recorded on the query for audit.
type Decision struct {
	FreeForm     bool   `json:"free_form"`
	TemplateName string `json:"template_name,omitempty"`
	Payload      string `json:"payload"`
}
