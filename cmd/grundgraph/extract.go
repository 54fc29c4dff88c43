package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/docbook"
	"github.com/urfave/cli/v2"
)

// processingFlags override the configured processing options.
func processingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Maximum tokens per chunk",
		},
		&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "Tokens shared by consecutive chunks",
		},
		&cli.StringFlag{
			Name:  "glossary-linking",
			Usage: "Glossary linking strategy (exact_match, fuzzy, none)",
		},
		&cli.BoolFlag{
			Name:  "no-glossary",
			Usage: "Skip glossary extraction",
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Vector collection to store chunks in",
		},
	}
}

func processingOptions(c *cli.Context, base core.ProcessingOptions) (core.ProcessingOptions, error) {
	opts := base
	if c.IsSet("chunk-size") {
		opts.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		opts.ChunkOverlap = c.Int("chunk-overlap")
	}
	if c.IsSet("glossary-linking") {
		opts.GlossaryLinking = core.LinkingStrategy(c.String("glossary-linking"))
	}
	if c.Bool("no-glossary") {
		opts.ExtractGlossary = false
	}
	if c.IsSet("collection") {
		opts.CollectionName = c.String("collection")
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract entities, relationships and chunks from a DocBook file without storing them",
		ArgsUsage: "<file>",
		Flags: append(processingFlags(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full extraction result as JSON",
			},
		),
		Action: extractAction,
	}
}

func extractAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file argument")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	opts, err := processingOptions(c, cfg.Processing)
	if err != nil {
		return err
	}

	result, err := docbook.Extract(c.Args().First(), opts)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printStats(out, result)
	return nil
}

func printStats(w io.Writer, result *core.ExtractionResult) {
	s := result.Stats
	fmt.Fprintf(w, "Document:      %s (%s)\n", result.Filename, result.DocumentID)
	fmt.Fprintf(w, "Entities:      %d\n", s.TotalEntities)
	for _, t := range slices.Sorted(maps.Keys(s.EntitiesByType)) {
		fmt.Fprintf(w, "  %-18s %d\n", t, s.EntitiesByType[t])
	}
	fmt.Fprintf(w, "Relationships: %d\n", s.TotalRelationships)
	for _, t := range slices.Sorted(maps.Keys(s.RelationshipsByType)) {
		fmt.Fprintf(w, "  %-18s %d\n", t, s.RelationshipsByType[t])
	}
	fmt.Fprintf(w, "Chunks:        %d\n", s.TotalChunks)
	fmt.Fprintf(w, "Glossary:      %d terms\n", s.GlossaryTerms)
	fmt.Fprintf(w, "Duration:      %v\n", s.Duration)
}
