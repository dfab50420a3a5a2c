// Package relay validates, resolves and streams public Airtable CSV exports.
package relay

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// GrammarVersion identifies the set of accepted URL shapes. Bump it whenever
// a shape is added, removed or changed.
const GrammarVersion = "2025-01"

// Kind is the classification of a candidate URL.
type Kind int

const (
	// Invalid URLs are never fetched.
	Invalid Kind = iota
	// DirectExport URLs point straight at a CSV export and are fetched as-is.
	DirectExport
	// SharePage URLs must be resolved to a DirectExport URL before fetching.
	SharePage
)

func (k Kind) String() string {
	switch k {
	case DirectExport:
		return "direct-export"
	case SharePage:
		return "share-page"
	default:
		return "invalid"
	}
}

// Shape is one accepted URL form.
type Shape struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
	// Extract and ExportTemplate are set for SharePage shapes: Extract's first
	// group is the view id, substituted for %s in ExportTemplate.
	Extract        *regexp.Regexp
	ExportTemplate string
}

const (
	shapeExportCSV   = "airtable-export-csv"
	shapeDownloadCSV = "airtable-download-csv"
	shapeShare       = "airtable-share"
)

var builtinShapes = []Shape{
	{
		Name:    shapeExportCSV,
		Kind:    DirectExport,
		Pattern: regexp.MustCompile(`^https://airtable\.com/v0\.3/view/[A-Za-z0-9]+\?exportCSV=true(?:[&#].*)?$`),
	},
	{
		Name:    shapeDownloadCSV,
		Kind:    DirectExport,
		Pattern: regexp.MustCompile(`^https://airtable\.com/v0\.3/view/[A-Za-z0-9]+/downloadCsv(?:[?#].*)?$`),
	},
	{
		Name:           shapeShare,
		Kind:           SharePage,
		Pattern:        regexp.MustCompile(`^https://airtable\.com/app[A-Za-z0-9]+/shr[A-Za-z0-9]+(?:[/?#].*)?$`),
		Extract:        regexp.MustCompile(`v0\.3/view/(viw[A-Za-z0-9]+)`),
		ExportTemplate: "https://airtable.com/v0.3/view/%s?exportCSV=true",
	},
}

// ShapeNames lists the built-in shapes in match order.
func ShapeNames() []string {
	names := make([]string, len(builtinShapes))
	for i, s := range builtinShapes {
		names[i] = s.Name
	}
	return names
}

// ValidatedURL is a classified candidate URL. Resolved is the URL that will
// actually be fetched; it is empty until a SharePage has been resolved.
type ValidatedURL struct {
	Kind     Kind
	Raw      string
	Resolved string
	Shape    *Shape
}

// Valid reports whether v may be fetched or resolved.
func (v ValidatedURL) Valid() bool { return v.Kind != Invalid }

// Grammar classifies URLs against an enabled set of shapes.
type Grammar struct {
	shapes []*Shape
}

// NewGrammar enables the named shapes, or every built-in shape when none are named.
func NewGrammar(names ...string) (*Grammar, error) {
	g := &Grammar{}
	if len(names) == 0 {
		for i := range builtinShapes {
			g.shapes = append(g.shapes, &builtinShapes[i])
		}
		return g, nil
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		var found *Shape
		for i := range builtinShapes {
			if builtinShapes[i].Name == name {
				found = &builtinShapes[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("unknown relay url shape %q (grammar %s)", name, GrammarVersion)
		}
		g.shapes = append(g.shapes, found)
	}
	return g, nil
}

// Classify matches raw against the enabled shapes. It performs no I/O.
func (g *Grammar) Classify(raw string) ValidatedURL {
	invalid := ValidatedURL{Kind: Invalid, Raw: raw}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host != "airtable.com" || u.User != nil {
		return invalid
	}
	for _, s := range g.shapes {
		if !s.Pattern.MatchString(raw) {
			continue
		}
		v := ValidatedURL{Kind: s.Kind, Raw: raw, Shape: s}
		if s.Kind == DirectExport {
			v.Resolved = raw
		}
		return v
	}
	return invalid
}

// Shapes returns the names of the enabled shapes.
func (g *Grammar) Shapes() []string {
	names := make([]string, len(g.shapes))
	for i, s := range g.shapes {
		names[i] = s.Name
	}
	return names
}
