package docbook

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/grundgraph/core"
)

func tokens(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("t%d", i)
	}
	return strings.Join(words, " ")
}

func TestSplitWindows_Coverage(t *testing.T) {
	cases := []struct{ n, size, overlap int }{
		{1, 4, 1}, {4, 4, 1}, {5, 4, 1}, {10, 4, 1}, {100, 10, 3},
		{512, 512, 128}, {513, 512, 128}, {1500, 512, 128}, {17, 5, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d size=%d overlap=%d", tc.n, tc.size, tc.overlap), func(t *testing.T) {
			original := strings.Fields(tokens(tc.n))
			windows := splitWindows(tokens(tc.n), tc.size, tc.overlap)
			require.NotEmpty(t, windows)

			var rebuilt []string
			for i, w := range windows {
				toks := strings.Fields(w)
				assert.LessOrEqual(t, len(toks), tc.size)
				if i < len(windows)-1 {
					assert.Equal(t, tc.size, len(toks))
				}
				if i == 0 {
					rebuilt = append(rebuilt, toks...)
					continue
				}
				prev := strings.Fields(windows[i-1])
				assert.Equal(t, prev[len(prev)-tc.overlap:], toks[:tc.overlap], "window %d overlap", i)
				rebuilt = append(rebuilt, toks[tc.overlap:]...)
			}
			assert.Equal(t, original, rebuilt)
		})
	}
}

func TestSplitWindows_Empty(t *testing.T) {
	assert.Nil(t, splitWindows("", 10, 2))
	assert.Nil(t, splitWindows(" \n\t ", 10, 2))
}

func TestGlossaryLinker(t *testing.T) {
	terms := []string{"IT-Grundschutz", "Schutzbedarf"}
	schutzID := core.HashedEntityID(core.EntityTypeGlossaryTerm, "Schutzbedarf")
	itgsID := core.HashedEntityID(core.EntityTypeGlossaryTerm, "IT-Grundschutz")

	exact := newGlossaryLinker(core.LinkExactMatch, terms)
	assert.Equal(t, []string{schutzID}, exact.link("Der SCHUTZBEDARF wird ermittelt."))
	assert.Equal(t, []string{itgsID, schutzID}, exact.link("IT-Grundschutz und Schutzbedarfsfeststellung"))
	assert.Empty(t, exact.link("Nichts davon."))

	fuzzy := newGlossaryLinker(core.LinkFuzzy, terms)
	assert.Equal(t, []string{schutzID}, fuzzy.link("Der Schutzbedaf wird ermittelt."))
	assert.Empty(t, fuzzy.link("Der Bedarf wird ermittelt."))

	none := newGlossaryLinker(core.LinkNone, terms)
	assert.Empty(t, none.link("Schutzbedarf"))
}

func TestPresets(t *testing.T) {
	presets := Presets()
	require.Len(t, presets, 1)
	assert.Equal(t, core.DefaultPreset, presets[0].Name)

	p, err := LookupPreset("")
	require.NoError(t, err)
	name, ok := p.LayerName("NET")
	assert.True(t, ok)
	assert.Equal(t, "Netze und Kommunikation", name)

	tests := []struct {
		title string
		code  string
	}{
		{"ORP.1 Organisation", "ORP.1"},
		{"APP.1.1 Office-Produkte", "APP.1.1"},
		{"ISMS.1: Sicherheitsmanagement", "ISMS.1"},
		{"SYS.2", "SYS.2"},
		{"ORP.1.A1 Festlegung", ""},
		{"XYZ.1 Unbekannt", ""},
	}
	for _, tt := range tests {
		m := p.BuildingBlockPattern.FindStringSubmatch(tt.title)
		if tt.code == "" {
			assert.Nil(t, m, tt.title)
			continue
		}
		require.NotNil(t, m, tt.title)
		assert.Equal(t, tt.code, m[1])
	}
}
