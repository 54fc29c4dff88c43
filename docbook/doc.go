// Package docbook extracts a typed entity graph and retrieval chunks from
// DocBook XML documents that follow a compliance taxonomy.
//
// Extraction is a pure function of the input bytes and the processing options:
// it performs no network or storage I/O, and identical input yields identical
// entity, relationship and chunk IDs. Downstream stores rely on this to make
// repeated ingestion and job resume idempotent.
//
// Basic usage:
//
//	result, err := docbook.Extract("kompendium.xml", core.DefaultProcessingOptions())
//	if err != nil {
//	    return err // wraps ErrParse for malformed XML
//	}
//	for _, chunk := range result.Chunks {
//	    fmt.Println(chunk.ID, chunk.Content)
//	}
//
// The taxonomy itself (layer codes, code patterns, role vocabulary, chapter
// designators) is described by a Preset. ITGrundschutz is the built-in one.
//
// Sections that match no known pattern are skipped silently.
package docbook
