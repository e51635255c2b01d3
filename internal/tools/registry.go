// Package tools holds the tool catalogue and the transforms behind the text
// and hash tools.
package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Category groups tools in the catalogue.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryOffice   Category = "office"
	CategoryDev      Category = "developer"
	CategorySecurity Category = "security"
	CategoryOther    Category = "other"
)

// RelationType describes how a suggested tool relates to the current one.
type RelationType string

const (
	RelationNext        RelationType = "next"
	RelationAlternative RelationType = "alternative"
	RelationAdvanced    RelationType = "advanced"
)

// Relation is an edge in the tool graph.
type Relation struct {
	Slug        string       `json:"slug"`
	Type        RelationType `json:"relation_type"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
}

// Info describes a tool's capabilities and limits.
type Info struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Category    Category `json:"category"`
	Description string   `json:"description"`

	AcceptsFiles bool `json:"accepts_files"`
	AcceptsText  bool `json:"accepts_text"`
	// MaxUploadMB of 0 means the global default applies.
	MaxUploadMB int `json:"max_upload_mb,omitempty"`

	// Cacheable tools produce deterministic output for the same input.
	Cacheable bool `json:"cacheable"`

	SuggestedNext         []Relation `json:"suggested_next,omitempty"`
	AcceptsPipelineFiles  bool       `json:"accepts_pipeline_files"`
	ProducesPipelineFiles bool       `json:"produces_pipeline_files"`
}

// Registry is the tool catalogue. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Info
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Info)}
}

// Register adds a tool. Slugs must be unique.
func (r *Registry) Register(info Info) error {
	if info.Slug == "" {
		return fmt.Errorf("tool slug is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Slug]; exists {
		return fmt.Errorf("tool %q already registered", info.Slug)
	}
	r.tools[info.Slug] = info
	r.order = append(r.order, info.Slug)
	return nil
}

// Get returns the tool with the given slug.
func (r *Registry) Get(slug string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tools[slug]
	return info, ok
}

// List returns tools in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.tools[slug])
	}
	return out
}

// Cacheable returns the slugs of cacheable tools, sorted.
func (r *Registry) Cacheable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for slug, info := range r.tools {
		if info.Cacheable {
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}

// Consumers returns the tools that can take a pipeline file produced by
// slug: its suggested next tools that accept pipeline files.
func (r *Registry) Consumers(slug string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.tools[slug]
	if !ok || !src.ProducesPipelineFiles {
		return nil
	}
	var out []Info
	for _, rel := range src.SuggestedNext {
		if dst, ok := r.tools[rel.Slug]; ok && dst.AcceptsPipelineFiles {
			out = append(out, dst)
		}
	}
	return out
}

// Validate checks that every suggested tool exists.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, slug := range r.order {
		for _, rel := range r.tools[slug].SuggestedNext {
			if _, ok := r.tools[rel.Slug]; !ok {
				return fmt.Errorf("tool %q suggests unknown tool %q", slug, rel.Slug)
			}
		}
	}
	return nil
}

// Limits are the upload limits applied to the default catalogue.
type Limits struct {
	MaxTextInputMB int
	MaxUploadMB    int
}

// DefaultRegistry returns the catalogue of tools served by this binary.
func DefaultRegistry(limits Limits) *Registry {
	r := NewRegistry()
	for _, info := range []Info{
		{
			Slug:        SlugBase64,
			Title:       "Base64 Converter",
			Category:    CategoryDev,
			Description: "Encode text to Base64 or decode it back; decode binary payloads to a file.",
			AcceptsText: true,
			MaxUploadMB: limits.MaxTextInputMB,
			Cacheable:   true,
			SuggestedNext: []Relation{
				{Slug: SlugJSONFormatter, Type: RelationAlternative, Label: "Format JSON", Description: "Format the decoded result as JSON"},
				{Slug: SlugHashGenerator, Type: RelationNext, Label: "Hash file", Description: "Checksum the decoded file"},
			},
			ProducesPipelineFiles: true,
		},
		{
			Slug:        SlugURLEncoder,
			Title:       "URL Encoder",
			Category:    CategoryDev,
			Description: "Percent-encode or decode URLs and URL fragments.",
			AcceptsText: true,
			MaxUploadMB: limits.MaxTextInputMB,
			Cacheable:   true,
			SuggestedNext: []Relation{
				{Slug: SlugBase64, Type: RelationAlternative, Label: "Base64"},
			},
		},
		{
			Slug:        SlugJSONFormatter,
			Title:       "JSON Formatter",
			Category:    CategoryDev,
			Description: "Prettify, minify and validate JSON documents.",
			AcceptsText: true,
			MaxUploadMB: limits.MaxTextInputMB,
			Cacheable:   true,
			SuggestedNext: []Relation{
				{Slug: SlugBase64, Type: RelationNext, Label: "Base64 encode"},
			},
		},
		{
			Slug:                 SlugHashGenerator,
			Title:                "Hash Generator",
			Category:             CategorySecurity,
			Description:          "Compute MD5, SHA-1, SHA-256, SHA-512 and BLAKE2b digests of text or files.",
			AcceptsText:          true,
			AcceptsFiles:         true,
			MaxUploadMB:          limits.MaxUploadMB,
			AcceptsPipelineFiles: true,
		},
	} {
		// Slugs are unique by construction.
		_ = r.Register(info)
	}
	return r
}

// Tool slugs.
const (
	SlugBase64        = "base64"
	SlugURLEncoder    = "url-encoder"
	SlugJSONFormatter = "json-formatter"
	SlugHashGenerator = "hash-generator"
)
