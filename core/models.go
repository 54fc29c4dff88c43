package core

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a short content-derived identifier used for extracted entities that
// have no natural key of their own.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width lowercase hex.
func (id ID) String() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return hex.EncodeToString(buf[:])
}

// DocumentIDFromBytes hashes raw document bytes into the document ID.
// Downstream idempotency relies on this being stable for identical input.
func DocumentIDFromBytes(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntityType is the closed set of entity categories produced by extraction.
type EntityType string

const (
	EntityTypeLayer         EntityType = "layer"
	EntityTypeBuildingBlock EntityType = "building_block"
	EntityTypeThreat        EntityType = "threat"
	EntityTypeRequirement   EntityType = "requirement"
	EntityTypeRole          EntityType = "role"
	EntityTypeGlossaryTerm  EntityType = "glossary_term"
	EntityTypeStandard      EntityType = "standard"
)

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{
	EntityTypeLayer,
	EntityTypeBuildingBlock,
	EntityTypeThreat,
	EntityTypeRequirement,
	EntityTypeRole,
	EntityTypeGlossaryTerm,
	EntityTypeStandard,
}

// RelationshipType names a directed edge between two entities.
type RelationshipType string

const (
	// RelBelongsTo links requirement to building block and building block to layer.
	RelBelongsTo RelationshipType = "BELONGS_TO"
	// RelReferences links a requirement to a referenced block or requirement.
	RelReferences RelationshipType = "REFERENCES"
	// RelResponsibleFor links a role to a requirement.
	RelResponsibleFor RelationshipType = "RESPONSIBLE_FOR"
	// RelGroundedIn links an entity to a standard it cites.
	RelGroundedIn RelationshipType = "GROUNDED_IN"
	// RelUsesTerm links an entity to a glossary term found in one of its chunks.
	RelUsesTerm RelationshipType = "USES_TERM"
)

// RelationshipTypes lists every relationship type in a stable order.
var RelationshipTypes = []RelationshipType{
	RelBelongsTo,
	RelReferences,
	RelResponsibleFor,
	RelGroundedIn,
	RelUsesTerm,
}

// Tier classifies a requirement.
type Tier string

const (
	TierBasis    Tier = "B"
	TierStandard Tier = "S"
	TierElevated Tier = "H"
)

// Name returns the long form of the tier.
func (t Tier) Name() string {
	switch t {
	case TierBasis:
		return "Basis"
	case TierStandard:
		return "Standard"
	case TierElevated:
		return "Hoch"
	}
	return ""
}

// Metadata keys carried on entities and chunks.
const (
	MetaTier            = "tier"
	MetaStatus          = "status"
	MetaCode            = "code"
	MetaBuildingBlock   = "building_block"
	MetaLayer           = "layer"
	MetaLayerName       = "layer_name"
	MetaCrossReferences = "cross_references"
	MetaStandards       = "standards"
	MetaRoles           = "roles"
	MetaTerm            = "term"
	MetaChunkID         = "chunk_id"
)

// Requirement status values stored under MetaStatus.
const (
	StatusActive       = "active"
	StatusDiscontinued = "discontinued"
)

// Metadata is the open bag of domain attributes attached to entities.
// Values are limited to string, bool, int, float64 and []string.
type Metadata map[string]any

// Clone returns a copy that shares no slices with m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, or "".
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Strings returns the string list stored under key, or nil.
func (m Metadata) Strings(key string) []string {
	list, _ := m[key].([]string)
	return list
}

// Entity is a node of the extracted knowledge structure.
type Entity struct {
	ID         string
	Type       EntityType
	Title      string
	Content    string
	BookmarkID string // empty unless bookmark tracking is enabled
	ParentID   string
	Metadata   Metadata
}

// Relationship is a directed, typed edge between two entity IDs.
// The target may not exist as an extracted entity.
type Relationship struct {
	SourceID string
	TargetID string
	Type     RelationshipType
	Metadata Metadata
}

// Key identifies the relationship for merge semantics.
func (r Relationship) Key() string {
	return r.SourceID + "|" + string(r.Type) + "|" + r.TargetID
}

// Chunk is a retrieval window of one entity's content.
type Chunk struct {
	ID              string
	EntityID        string
	EntityType      EntityType
	Content         string
	Index           int
	Total           int
	BookmarkID      string
	Metadata        Metadata
	GlossaryTermIDs []string
}

// ExtractionStats summarizes one extraction pass.
type ExtractionStats struct {
	EntitiesByType      map[EntityType]int
	RelationshipsByType map[RelationshipType]int
	TotalEntities       int
	TotalRelationships  int
	TotalChunks         int
	GlossaryTerms       int
	Duration            time.Duration
}

// ExtractionResult is everything extracted from one document.
type ExtractionResult struct {
	DocumentID    string
	Filename      string
	Entities      []Entity
	Relationships []Relationship
	Chunks        []Chunk
	Glossary      map[string]string
	Stats         ExtractionStats
}

// EntityID builds the stable ID for an entity from its type and natural key.
func EntityID(t EntityType, key string) string {
	return string(t) + ":" + key
}

// HashedEntityID builds an entity ID for entities without a natural key.
func HashedEntityID(t EntityType, text string) string {
	return EntityID(t, IDFromContent(text).String())
}

// ChunkID builds the stable ID of the index-th chunk of an entity.
func ChunkID(entityID string, index int) string {
	return entityID + ":chunk:" + strconv.Itoa(index)
}

// EntityIDFromChunkID recovers the owning entity ID from a chunk ID.
func EntityIDFromChunkID(chunkID string) (string, bool) {
	i := strings.LastIndex(chunkID, ":chunk:")
	if i < 0 {
		return "", false
	}
	return chunkID[:i], true
}
