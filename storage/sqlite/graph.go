package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/storage"
	"github.com/poiesic/grundgraph/storage/sqlite/migrations"
)

const (
	// DefaultDepth is used when Explore is called with a non-positive depth.
	DefaultDepth = 2
	// MaxDepth caps every exploration.
	MaxDepth = 5

	maxContentRunes = 5000
)

// GraphStore implements storage.GraphStore on SQLite.
type GraphStore struct {
	db           *sql.DB
	path         string
	defaultDepth int
	maxDepth     int
	logger       *slog.Logger
}

var _ storage.GraphStore = (*GraphStore)(nil)

// Option configures a GraphStore.
type Option func(*GraphStore) error

// WithDepthLimits overrides the default and maximum exploration depth.
func WithDepthLimits(defaultDepth, maxDepth int) Option {
	return func(s *GraphStore) error {
		if defaultDepth <= 0 || maxDepth < defaultDepth {
			return fmt.Errorf("%w: depth limits %d/%d", storage.ErrInvalidQuery, defaultDepth, maxDepth)
		}
		s.defaultDepth = defaultDepth
		s.maxDepth = maxDepth
		return nil
	}
}

// Open opens or creates the graph database file at path and applies migrations.
func Open(path string, opts ...Option) (*GraphStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &GraphStore{
		db:           db,
		path:         path,
		defaultDepth: DefaultDepth,
		maxDepth:     MaxDepth,
		logger:       slog.Default().With("component", "graph"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *GraphStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *GraphStore) Path() string {
	return s.path
}

// migrate runs all pending *.up.sql migrations in name order.
func (s *GraphStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	slices.Sort(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}
	return nil
}

const upsertNodeSQL = `
	INSERT INTO nodes (id, type, title, content, bookmark_id, parent_id, document_id, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		title = excluded.title,
		content = excluded.content,
		bookmark_id = excluded.bookmark_id,
		parent_id = excluded.parent_id,
		document_id = excluded.document_id,
		metadata = excluded.metadata,
		updated_at = CURRENT_TIMESTAMP
`

// CreateNode merges a single entity.
func (s *GraphStore) CreateNode(ctx context.Context, entity core.Entity, documentID string) error {
	return s.CreateNodes(ctx, []core.Entity{entity}, documentID)
}

// CreateNodes merges entities by ID in one transaction.
func (s *GraphStore) CreateNodes(ctx context.Context, entities []core.Entity, documentID string) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertNodeSQL)
	if err != nil {
		return fmt.Errorf("preparing node upsert: %w", err)
	}
	defer stmt.Close()

	for i := range entities {
		e := &entities[i]
		if err := core.ValidateEntity(e); err != nil {
			return err
		}
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, e.ID, string(e.Type), e.Title, truncateRunes(e.Content, maxContentRunes),
			e.BookmarkID, e.ParentID, documentID, meta)
		if err != nil {
			return fmt.Errorf("upserting node %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// CreateRelationship merges an edge by (source, target, type).
func (s *GraphStore) CreateRelationship(ctx context.Context, rel core.Relationship) error {
	if rel.SourceID == "" || rel.TargetID == "" || rel.Type == "" {
		return fmt.Errorf("%w: incomplete relationship %q", storage.ErrInvalidQuery, rel.Key())
	}
	meta, err := encodeMetadata(rel.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (source_id, target_id, type, metadata, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, rel.SourceID, rel.TargetID, string(rel.Type), meta)
	if err != nil {
		return fmt.Errorf("upserting edge %s: %w", rel.Key(), err)
	}
	return nil
}

const nodeColumns = "id, type, title, content, bookmark_id, parent_id, document_id, metadata"

// GetNode returns a node by ID.
func (s *GraphStore) GetNode(ctx context.Context, id string) (*storage.Node, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Explore performs a breadth-first walk from startID.
func (s *GraphStore) Explore(ctx context.Context, startID string, depth int, direction storage.Direction, relTypes []core.RelationshipType) (*storage.Subgraph, error) {
	center, err := s.GetNode(ctx, startID)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = s.defaultDepth
	}
	depth = min(depth, s.maxDepth)
	if direction == "" {
		direction = storage.DirectionBoth
	}
	switch direction {
	case storage.DirectionOut, storage.DirectionIn, storage.DirectionBoth:
	default:
		return nil, fmt.Errorf("%w: direction %q", storage.ErrInvalidQuery, direction)
	}

	sub := &storage.Subgraph{Center: center}
	visited := map[string]struct{}{startID: {}}
	seenEdges := make(map[string]struct{})
	frontier := []string{startID}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.incidentEdges(ctx, id, direction, relTypes)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				key := e.SourceID + "|" + string(e.Type) + "|" + e.TargetID
				if _, ok := seenEdges[key]; !ok {
					seenEdges[key] = struct{}{}
					sub.Edges = append(sub.Edges, e)
				}
				neighbour := e.TargetID
				if neighbour == id {
					neighbour = e.SourceID
				}
				if _, ok := visited[neighbour]; ok {
					continue
				}
				visited[neighbour] = struct{}{}
				next = append(next, neighbour)
			}
		}
		if len(next) > 0 {
			sub.DepthReached = d
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		if id != startID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		n, err := s.GetNode(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// dangling edge target
			continue
		}
		if err != nil {
			return nil, err
		}
		sub.Nodes = append(sub.Nodes, *n)
	}
	slices.SortFunc(sub.Edges, compareEdges)
	return sub, nil
}

func (s *GraphStore) incidentEdges(ctx context.Context, id string, direction storage.Direction, relTypes []core.RelationshipType) ([]storage.Edge, error) {
	var where string
	args := []any{}
	switch direction {
	case storage.DirectionOut:
		where = "source_id = ?"
		args = append(args, id)
	case storage.DirectionIn:
		where = "target_id = ?"
		args = append(args, id)
	default:
		where = "(source_id = ? OR target_id = ?)"
		args = append(args, id, id)
	}
	if len(relTypes) > 0 {
		where += " AND type IN (" + placeholders(len(relTypes)) + ")"
		for _, t := range relTypes {
			args = append(args, string(t))
		}
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, target_id, type, metadata FROM edges WHERE "+where+" ORDER BY source_id, type, target_id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges of %s: %w", id, err)
	}
	defer rows.Close()

	var edges []storage.Edge
	for rows.Next() {
		var e storage.Edge
		var typ, meta string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &typ, &meta); err != nil {
			return nil, err
		}
		e.Type = core.RelationshipType(typ)
		if e.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SearchNodes finds nodes by case-insensitive substring of ID, title or content.
// Title matches rank first.
func (s *GraphStore) SearchNodes(ctx context.Context, query string, types []core.EntityType, limit int) ([]storage.Node, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", storage.ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"
	where := "(title LIKE ? ESCAPE '\\' OR content LIKE ? ESCAPE '\\' OR id LIKE ? ESCAPE '\\')"
	args := []any{pattern, pattern, pattern}
	if len(types) > 0 {
		where += " AND type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	args = append(args, pattern, limit)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE "+where+
			" ORDER BY CASE WHEN title LIKE ? ESCAPE '\\' THEN 0 ELSE 1 END, id LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("searching nodes: %w", err)
	}
	defer rows.Close()

	var nodes []storage.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// DeleteNodesForDocument removes a document's nodes and every edge touching them.
func (s *GraphStore) DeleteNodesForDocument(ctx context.Context, documentID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE source_id IN (SELECT id FROM nodes WHERE document_id = ?)
		   OR target_id IN (SELECT id FROM nodes WHERE document_id = ?)
	`, documentID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting edges: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting nodes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats counts nodes and edges by type.
func (s *GraphStore) Stats(ctx context.Context) (*storage.GraphStats, error) {
	stats := &storage.GraphStats{
		NodesByType:         make(map[core.EntityType]int),
		RelationshipsByType: make(map[core.RelationshipType]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM nodes GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.NodesByType[core.EntityType(typ)] = n
		stats.TotalNodes += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM edges GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("counting edges: %w", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.RelationshipsByType[core.RelationshipType(typ)] = n
		stats.TotalEdges += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT document_id) FROM nodes WHERE document_id != ''")
	if err := row.Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*storage.Node, error) {
	var n storage.Node
	var typ, meta string
	if err := row.Scan(&n.ID, &typ, &n.Title, &n.Content, &n.BookmarkID, &n.ParentID, &n.DocumentID, &meta); err != nil {
		return nil, err
	}
	n.Type = core.EntityType(typ)
	var err error
	if n.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &n, nil
}

func compareEdges(a, b storage.Edge) int {
	if c := strings.Compare(a.SourceID, b.SourceID); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
		return c
	}
	return strings.Compare(a.TargetID, b.TargetID)
}

func encodeMetadata(m core.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	if err := core.ValidateMetadata(m); err != nil {
		return "", err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return string(data), nil
}

// decodeMetadata restores the metadata value types that JSON loses:
// string lists and integers.
func decodeMetadata(s string) (core.Metadata, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	m := make(core.Metadata, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case json.Number:
			if i, err := v.Int64(); err == nil {
				m[k] = int(i)
			} else if f, err := v.Float64(); err == nil {
				m[k] = f
			}
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			m[k] = list
		default:
			m[k] = v
		}
	}
	return m, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
