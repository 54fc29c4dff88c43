package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/poiesic/grundgraph/core"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GRUNDGRAPH_"

type lookupFunc func(string) (string, bool)

// applyEnv overrides values from GRUNDGRAPH_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("DATA_DIR", &c.DataDir)

	e.str("EMBEDDING_HOST", &c.Embedding.Host)
	e.str("EMBEDDING_MODEL", &c.Embedding.Model)
	e.int("EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	e.str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	e.float("EMBEDDING_RATE_LIMIT", &c.Embedding.RateLimit)
	e.int("EMBEDDING_CACHE_SIZE", &c.Embedding.CacheSize)
	e.duration("EMBEDDING_TIMEOUT", &c.Embedding.Timeout)

	e.int("WORKERS", &c.Pipeline.Workers)
	e.int("BATCH_SIZE", &c.Pipeline.BatchSize)
	e.duration("CALL_TIMEOUT", &c.Pipeline.CallTimeout)
	e.duration("KEEPALIVE", &c.Pipeline.Keepalive)

	e.int("GRAPH_DEFAULT_DEPTH", &c.Graph.DefaultDepth)
	e.int("GRAPH_MAX_DEPTH", &c.Graph.MaxDepth)

	e.int("RETENTION_DAYS", &c.Jobs.RetentionDays)
	e.duration("CLEANUP_INTERVAL", &c.Jobs.CleanupInterval)

	e.str("SERVER_ADDR", &c.Server.Addr)

	e.str("PRESET", &c.Processing.Preset)
	e.str("COLLECTION", &c.Processing.CollectionName)
	e.int("CHUNK_SIZE", &c.Processing.ChunkSize)
	e.int("CHUNK_OVERLAP", &c.Processing.ChunkOverlap)
	e.bool("CREATE_GRAPH", &c.Processing.CreateGraph)
	var linking string
	if e.str("GLOSSARY_LINKING", &linking) {
		c.Processing.GlossaryLinking = core.LinkingStrategy(linking)
	}

	return e.err
}

// envReader keeps the first parse error so callers can read many variables
// and check once.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(name, value string, err error) {
	e.err = fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, name, value, err)
}

func (e *envReader) str(name string, dst *string) bool {
	v, ok := e.get(name)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = f
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
