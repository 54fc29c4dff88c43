package docbook

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/grundgraph/core"
)

// Layer is one top-level category of building blocks.
type Layer struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Preset describes the taxonomy a document follows.
type Preset struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Layers      []Layer  `json:"layers"`
	Roles       []string `json:"roles"`

	// GlossaryChapter and ThreatChapter are substrings of chapter titles.
	GlossaryChapter string `json:"glossary_chapter"`
	ThreatChapter   string `json:"threat_chapter"`

	// DescriptionTitles are the subsection titles of a building block whose
	// text forms the block's retrievable description.
	DescriptionTitles []string `json:"description_titles"`

	// DiscontinuedMarkers flag a withdrawn requirement when found in its title or body.
	DiscontinuedMarkers []string `json:"discontinued_markers"`

	BuildingBlockPattern  *regexp.Regexp `json:"-"`
	RequirementPattern    *regexp.Regexp `json:"-"`
	ThreatPattern         *regexp.Regexp `json:"-"`
	TierPattern           *regexp.Regexp `json:"-"`
	CrossReferencePattern *regexp.Regexp `json:"-"`
	StandardPattern       *regexp.Regexp `json:"-"`
}

// LayerName returns the display name of a layer code and whether it is known.
func (p *Preset) LayerName(code string) (string, bool) {
	for _, l := range p.Layers {
		if l.Code == code {
			return l.Name, true
		}
	}
	return "", false
}

// ITGrundschutz returns the preset for the BSI IT-Grundschutz Kompendium.
func ITGrundschutz() *Preset {
	layers := []Layer{
		{Code: "ISMS", Name: "Sicherheitsmanagement"},
		{Code: "ORP", Name: "Organisation und Personal"},
		{Code: "CON", Name: "Konzepte und Vorgehensweisen"},
		{Code: "OPS", Name: "Betrieb"},
		{Code: "DER", Name: "Detektion und Reaktion"},
		{Code: "APP", Name: "Anwendungen"},
		{Code: "SYS", Name: "IT-Systeme"},
		{Code: "IND", Name: "Industrielle IT"},
		{Code: "NET", Name: "Netze und Kommunikation"},
		{Code: "INF", Name: "Infrastruktur"},
	}
	codes := make([]string, len(layers))
	for i, l := range layers {
		codes[i] = regexp.QuoteMeta(l.Code)
	}

	return &Preset{
		Name:        core.DefaultPreset,
		Description: "BSI IT-Grundschutz Kompendium (DocBook 5)",
		Layers:      layers,
		Roles: []string{
			"ISB", "IT-Betrieb", "Benutzende", "Datenschutzbeauftragte",
			"Institutionsleitung", "Vorgesetzte", "Mitarbeitende",
			"Personalabteilung", "Haustechnik", "Beschaffung",
			"IT-Administratoren", "Entwickelnde", "Fachverantwortliche",
		},
		GlossaryChapter:     "Glossar",
		ThreatChapter:       "Elementare Gefährdungen",
		DescriptionTitles:   []string{"Beschreibung", "Einleitung", "Zielsetzung"},
		DiscontinuedMarkers: []string{"ENTFALLEN", "Diese Anforderung ist entfallen"},

		// The code must be followed by a separator so "ORP.1.A1" is not read as block "ORP.1".
		BuildingBlockPattern: regexp.MustCompile(`^((?:` + strings.Join(codes, "|") + `)\.[0-9]+(?:\.[0-9]+)?)(?:[\s:]|$)`),
		RequirementPattern:   regexp.MustCompile(`^([A-Z]+\.[0-9]+(?:\.[0-9]+)?\.A[0-9]+)`),
		ThreatPattern:        regexp.MustCompile(`^G\s*0?\.[0-9]+`),

		// Tier marker may be followed by role annotations such as "[ISB]".
		TierPattern:           regexp.MustCompile(`\(([BSH])\)\s*(?:\[[^\]]*\]\s*)*$`),
		CrossReferencePattern: regexp.MustCompile(`(?i:siehe)\s+([A-Z]+\.[0-9]+(?:\.[0-9]+)?(?:\.A[0-9]+)?)`),

		StandardPattern: regexp.MustCompile(`(?i)(ISO[/\s]*(?:IEC)?\s*[0-9]+(?:[:-][0-9]+)?` +
			`|NIST\s+(?:SP\s*)?[0-9]+(?:-[0-9]+)?` +
			`|BSI-Standard\s*[0-9]+(?:-[0-9]+)?)`),
	}
}

var presets = map[string]func() *Preset{
	core.DefaultPreset: ITGrundschutz,
}

// Presets returns every built-in preset ordered by name.
func Presets() []*Preset {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*Preset, 0, len(names))
	for _, name := range names {
		out = append(out, presets[name]())
	}
	return out
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (*Preset, error) {
	if name == "" {
		name = core.DefaultPreset
	}
	fn, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return fn(), nil
}
