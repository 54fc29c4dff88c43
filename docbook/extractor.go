package docbook

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/poiesic/grundgraph/core"
)

// Extractor turns DocBook documents into entities, relationships and chunks.
// An Extractor is immutable and safe for concurrent use.
type Extractor struct {
	preset *Preset
	opts   core.ProcessingOptions
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithPreset overrides the preset named in the processing options.
func WithPreset(p *Preset) Option {
	return func(e *Extractor) error {
		if p == nil {
			return fmt.Errorf("%w: nil preset", ErrUnknownPreset)
		}
		e.preset = p
		return nil
	}
}

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) error {
		e.logger = logger
		return nil
	}
}

// NewExtractor creates an extractor for the given processing options.
func NewExtractor(opts core.ProcessingOptions, options ...Option) (*Extractor, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	e := &Extractor{
		opts:   opts,
		logger: slog.Default().With("component", "docbook"),
	}
	for _, opt := range options {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.preset == nil {
		p, err := LookupPreset(opts.Preset)
		if err != nil {
			return nil, err
		}
		e.preset = p
	}
	return e, nil
}

// Extract reads and extracts the document at path with the given options.
func Extract(path string, opts core.ProcessingOptions) (*core.ExtractionResult, error) {
	e, err := NewExtractor(opts)
	if err != nil {
		return nil, err
	}
	return e.Extract(path)
}

// Extract reads and extracts the document at path.
func (e *Extractor) Extract(path string) (*core.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return e.ExtractBytes(filepath.Base(path), data)
}

// ExtractBytes extracts a document held in memory. filename is informational.
func (e *Extractor) ExtractBytes(filename string, data []byte) (*core.ExtractionResult, error) {
	start := time.Now()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, filename, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: %s: no root element", ErrParse, filename)
	}

	p := newPass(e.preset, e.opts)
	if e.opts.ExtractGlossary {
		p.extractGlossary(root)
	}
	p.linker = newGlossaryLinker(e.opts.GlossaryLinking, p.sortedTerms())

	for _, chapter := range descendants(root, "chapter") {
		title := titleOf(chapter)
		if title == "" {
			continue
		}
		if strings.Contains(title, e.preset.ThreatChapter) {
			p.processThreats(chapter)
			continue
		}
		for _, section := range children(chapter, "section") {
			p.processBuildingBlock(section)
		}
	}

	// Catch blocks outside any recognized chapter. Already created IDs are skipped.
	for _, section := range descendants(root, "section") {
		p.processBuildingBlock(section)
	}

	p.createStandards()

	result := p.result(core.DocumentIDFromBytes(data), filename)
	result.Stats.Duration = time.Since(start)
	e.logger.Debug("extracted document",
		"filename", filename,
		"entities", result.Stats.TotalEntities,
		"relationships", result.Stats.TotalRelationships,
		"chunks", result.Stats.TotalChunks,
		"duration", result.Stats.Duration)
	return result, nil
}

// pass holds the mutable state of one extraction.
type pass struct {
	preset *Preset
	opts   core.ProcessingOptions
	linker *glossaryLinker

	entities []core.Entity
	index    map[string]int
	rels     []core.Relationship
	relSeen  map[string]struct{}
	chunks   []core.Chunk
	glossary map[string]string

	// standardTitles maps a normalized standard code to its first raw spelling.
	standardTitles map[string]string
}

func newPass(preset *Preset, opts core.ProcessingOptions) *pass {
	return &pass{
		preset:         preset,
		opts:           opts,
		index:          make(map[string]int),
		relSeen:        make(map[string]struct{}),
		glossary:       make(map[string]string),
		standardTitles: make(map[string]string),
	}
}

// addEntity appends e unless an entity with its ID exists. First wins.
func (p *pass) addEntity(e core.Entity) bool {
	if _, ok := p.index[e.ID]; ok {
		return false
	}
	p.index[e.ID] = len(p.entities)
	p.entities = append(p.entities, e)
	return true
}

func (p *pass) has(id string) bool {
	_, ok := p.index[id]
	return ok
}

func (p *pass) addRelationship(r core.Relationship) {
	key := r.Key() + "|" + r.Metadata.String(core.MetaChunkID)
	if _, ok := p.relSeen[key]; ok {
		return
	}
	p.relSeen[key] = struct{}{}
	p.rels = append(p.rels, r)
}

func (p *pass) bookmark(el *etree.Element) string {
	if !p.opts.StoreBookmarkIDs {
		return ""
	}
	return bookmarkOf(el)
}

func (p *pass) extractGlossary(root *etree.Element) {
	for _, chapter := range descendants(root, "chapter") {
		if !strings.Contains(titleOf(chapter), p.preset.GlossaryChapter) {
			continue
		}
		for _, para := range descendants(chapter, "para") {
			var emphasis *etree.Element
			for _, c := range children(para, "emphasis") {
				if c.SelectAttrValue("role", "") == "strong" {
					emphasis = c
					break
				}
			}
			if emphasis == nil {
				continue
			}
			term := elementText(emphasis)
			definition := strings.Replace(elementText(para), term, "", 1)
			definition = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(definition), ":"))
			if term == "" || definition == "" {
				continue
			}
			if _, ok := p.glossary[term]; ok {
				continue
			}
			p.glossary[term] = definition
			p.addEntity(core.Entity{
				ID:         core.HashedEntityID(core.EntityTypeGlossaryTerm, term),
				Type:       core.EntityTypeGlossaryTerm,
				Title:      term,
				Content:    definition,
				BookmarkID: p.bookmark(para),
				Metadata:   core.Metadata{core.MetaTerm: term},
			})
		}
	}
}

func (p *pass) sortedTerms() []string {
	terms := make([]string, 0, len(p.glossary))
	for t := range p.glossary {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	return terms
}

func (p *pass) processThreats(chapter *etree.Element) {
	for _, section := range descendants(chapter, "section") {
		title := titleOf(section)
		match := p.preset.ThreatPattern.FindString(title)
		if match == "" {
			continue
		}
		code := strings.ReplaceAll(match, " ", "")
		id := core.EntityID(core.EntityTypeThreat, code)
		if p.has(id) {
			continue
		}
		content := elementText(section)
		meta := core.Metadata{core.MetaCode: code}
		p.enrichReferences(meta, code, content)

		entity := core.Entity{
			ID:         id,
			Type:       core.EntityTypeThreat,
			Title:      title,
			Content:    content,
			BookmarkID: p.bookmark(section),
			Metadata:   meta,
		}
		p.addEntity(entity)
		p.chunkEntity(entity, content)
	}
}

func (p *pass) processBuildingBlock(section *etree.Element) {
	title := titleOf(section)
	m := p.preset.BuildingBlockPattern.FindStringSubmatch(title)
	if m == nil {
		return
	}
	code := m[1]
	id := core.EntityID(core.EntityTypeBuildingBlock, code)
	if p.has(id) {
		return
	}

	content := elementText(section)
	meta := core.Metadata{core.MetaCode: code}
	layerCode, _, _ := strings.Cut(code, ".")
	var layerID string
	if name, ok := p.preset.LayerName(layerCode); ok {
		layerID = p.ensureLayer(layerCode, name)
		meta[core.MetaLayer] = layerCode
		meta[core.MetaLayerName] = name
	}
	p.enrichReferences(meta, code, content)

	entity := core.Entity{
		ID:         id,
		Type:       core.EntityTypeBuildingBlock,
		Title:      title,
		Content:    content,
		BookmarkID: p.bookmark(section),
		ParentID:   layerID,
		Metadata:   meta,
	}
	p.addEntity(entity)
	if layerID != "" {
		p.addRelationship(core.Relationship{SourceID: id, TargetID: layerID, Type: core.RelBelongsTo})
	}

	// The description subsections, not the full block, are what gets retrieved.
	var parts []string
	var descBookmark string
	for _, sub := range children(section, "section") {
		if !slices.Contains(p.preset.DescriptionTitles, titleOf(sub)) {
			continue
		}
		if len(parts) == 0 {
			descBookmark = p.bookmark(sub)
		}
		parts = append(parts, elementText(sub))
	}
	if len(parts) > 0 {
		desc := entity
		desc.BookmarkID = descBookmark
		p.chunkEntity(desc, strings.Join(parts, " "))
	}

	for _, sub := range descendants(section, "section") {
		p.processRequirement(sub, id, code)
	}
}

func (p *pass) ensureLayer(code, name string) string {
	id := core.EntityID(core.EntityTypeLayer, code)
	p.addEntity(core.Entity{
		ID:      id,
		Type:    core.EntityTypeLayer,
		Title:   code + " - " + name,
		Content: "Schicht " + code + ": " + name,
		Metadata: core.Metadata{
			core.MetaLayer:     code,
			core.MetaLayerName: name,
		},
	})
	return id
}

func (p *pass) processRequirement(section *etree.Element, blockID, blockCode string) {
	title := titleOf(section)
	m := p.preset.RequirementPattern.FindStringSubmatch(title)
	if m == nil {
		return
	}
	code := m[1]
	if !strings.HasPrefix(code, blockCode+".A") {
		return
	}
	id := core.EntityID(core.EntityTypeRequirement, code)
	if p.has(id) {
		return
	}

	content := elementText(section)
	discontinued := p.isDiscontinued(title, content)
	meta := core.Metadata{
		core.MetaCode:          code,
		core.MetaBuildingBlock: blockCode,
	}
	if t := p.preset.TierPattern.FindStringSubmatch(title); t != nil {
		meta[core.MetaTier] = t[1]
	}
	roles := p.rolesIn(title)
	if len(roles) > 0 {
		meta[core.MetaRoles] = roles
	}
	refs := p.enrichReferences(meta, code, content)
	if p.opts.TrackDiscontinued {
		if discontinued {
			meta[core.MetaStatus] = core.StatusDiscontinued
		} else {
			meta[core.MetaStatus] = core.StatusActive
		}
	}

	entity := core.Entity{
		ID:         id,
		Type:       core.EntityTypeRequirement,
		Title:      title,
		Content:    content,
		BookmarkID: p.bookmark(section),
		ParentID:   blockID,
		Metadata:   meta,
	}
	p.addEntity(entity)
	p.addRelationship(core.Relationship{SourceID: id, TargetID: blockID, Type: core.RelBelongsTo})

	for _, ref := range refs {
		target := core.EntityID(core.EntityTypeBuildingBlock, ref)
		if strings.Contains(ref, ".A") {
			target = core.EntityID(core.EntityTypeRequirement, ref)
		}
		p.addRelationship(core.Relationship{SourceID: id, TargetID: target, Type: core.RelReferences})
	}

	for _, role := range roles {
		roleID := core.HashedEntityID(core.EntityTypeRole, role)
		p.addEntity(core.Entity{
			ID:      roleID,
			Type:    core.EntityTypeRole,
			Title:   role,
			Content: "Rolle: " + role,
		})
		p.addRelationship(core.Relationship{SourceID: roleID, TargetID: id, Type: core.RelResponsibleFor})
	}

	if p.opts.TrackDiscontinued && discontinued {
		return
	}
	p.chunkEntity(entity, content)
}

func (p *pass) isDiscontinued(title, content string) bool {
	for _, marker := range p.preset.DiscontinuedMarkers {
		if strings.Contains(title, marker) || strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// rolesIn returns vocabulary roles named in bracket annotations of title, in
// order of first appearance.
func (p *pass) rolesIn(title string) []string {
	var roles []string
	rest := title
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			break
		}
		for _, name := range strings.Split(rest[open+1:open+end], ",") {
			name = strings.TrimSpace(name)
			if slices.Contains(p.preset.Roles, name) && !slices.Contains(roles, name) {
				roles = append(roles, name)
			}
		}
		rest = rest[open+end+1:]
	}
	return roles
}

// enrichReferences stores cross references and standards found in content on
// meta and returns the cross references.
func (p *pass) enrichReferences(meta core.Metadata, ownCode, content string) []string {
	var refs []string
	for _, m := range p.preset.CrossReferencePattern.FindAllStringSubmatch(content, -1) {
		ref := m[1]
		if ref == ownCode || slices.Contains(refs, ref) {
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		meta[core.MetaCrossReferences] = refs
	}

	var standards []string
	for _, raw := range p.preset.StandardPattern.FindAllString(content, -1) {
		code := strings.ReplaceAll(strings.ToUpper(raw), " ", "")
		if _, ok := p.standardTitles[code]; !ok {
			p.standardTitles[code] = strings.TrimSpace(raw)
		}
		if !slices.Contains(standards, code) {
			standards = append(standards, code)
		}
	}
	if len(standards) > 0 {
		meta[core.MetaStandards] = standards
	}
	return refs
}

// createStandards synthesizes one entity per cited standard and links every citing entity.
func (p *pass) createStandards() {
	codes := make([]string, 0, len(p.standardTitles))
	for code := range p.standardTitles {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		title := p.standardTitles[code]
		p.addEntity(core.Entity{
			ID:       core.EntityID(core.EntityTypeStandard, code),
			Type:     core.EntityTypeStandard,
			Title:    title,
			Content:  "Standard: " + title,
			Metadata: core.Metadata{core.MetaCode: code},
		})
	}
	for _, e := range p.entities {
		for _, code := range e.Metadata.Strings(core.MetaStandards) {
			p.addRelationship(core.Relationship{
				SourceID: e.ID,
				TargetID: core.EntityID(core.EntityTypeStandard, code),
				Type:     core.RelGroundedIn,
			})
		}
	}
}

// chunkEntity windows text and links each window to the glossary.
func (p *pass) chunkEntity(e core.Entity, text string) {
	windows := splitWindows(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	for i, w := range windows {
		chunk := core.Chunk{
			ID:              core.ChunkID(e.ID, i),
			EntityID:        e.ID,
			EntityType:      e.Type,
			Content:         w,
			Index:           i,
			Total:           len(windows),
			BookmarkID:      e.BookmarkID,
			Metadata:        e.Metadata.Clone(),
			GlossaryTermIDs: p.linker.link(w),
		}
		p.chunks = append(p.chunks, chunk)
		for _, termID := range chunk.GlossaryTermIDs {
			p.addRelationship(core.Relationship{
				SourceID: e.ID,
				TargetID: termID,
				Type:     core.RelUsesTerm,
				Metadata: core.Metadata{core.MetaChunkID: chunk.ID},
			})
		}
	}
}

func (p *pass) result(documentID, filename string) *core.ExtractionResult {
	entities := slices.Clone(p.entities)
	slices.SortFunc(entities, func(a, b core.Entity) int { return strings.Compare(a.ID, b.ID) })

	rels := slices.Clone(p.rels)
	slices.SortFunc(rels, compareRelationships)

	stats := core.ExtractionStats{
		EntitiesByType:      make(map[core.EntityType]int),
		RelationshipsByType: make(map[core.RelationshipType]int),
		TotalEntities:       len(entities),
		TotalRelationships:  len(rels),
		TotalChunks:         len(p.chunks),
		GlossaryTerms:       len(p.glossary),
	}
	for _, e := range entities {
		stats.EntitiesByType[e.Type]++
	}
	for _, r := range rels {
		stats.RelationshipsByType[r.Type]++
	}

	return &core.ExtractionResult{
		DocumentID:    documentID,
		Filename:      filename,
		Entities:      entities,
		Relationships: rels,
		Chunks:        p.chunks,
		Glossary:      p.glossary,
		Stats:         stats,
	}
}

func compareRelationships(a, b core.Relationship) int {
	if c := strings.Compare(a.SourceID, b.SourceID); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
		return c
	}
	if c := strings.Compare(a.TargetID, b.TargetID); c != 0 {
		return c
	}
	return strings.Compare(a.Metadata.String(core.MetaChunkID), b.Metadata.String(core.MetaChunkID))
}
