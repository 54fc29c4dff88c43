package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/search"
	"github.com/poiesic/grundgraph/storage"
	"github.com/urfave/cli/v2"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search stored chunks",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "top-k",
				Aliases: []string{"k"},
				Usage:   "Number of results",
				Value:   10,
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "Graph strategy (none, pre_filter, post_enrich, merge)",
				Value:   string(search.StrategyNone),
			},
			&cli.StringFlag{
				Name:  "document",
				Usage: "Restrict to one document ID",
			},
			&cli.StringFlag{
				Name:  "entity-type",
				Usage: "Restrict to one entity type",
			},
			&cli.IntFlag{
				Name:  "depth",
				Usage: "Graph exploration depth",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Vector collection to search",
			},
		},
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a query is required")
	}
	strategy, err := search.ParseStrategy(c.String("strategy"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	results, err := svc.Searcher().Search(c.Context, query, search.Options{
		TopK:       c.Int("top-k"),
		DocumentID: c.String("document"),
		EntityType: core.EntityType(c.String("entity-type")),
		Strategy:   strategy,
		Depth:      c.Int("depth"),
		Collection: c.String("collection"),
	})
	if err != nil {
		return err
	}
	printResults(c.App.Writer, results)
	return nil
}

func printResults(w io.Writer, results []*search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for i, r := range results {
		marker := ""
		if r.Verbatim {
			marker = " *"
		}
		fmt.Fprintf(w, "%2d. %.3f [%s]%s %s\n", i+1, r.Score, r.Source, marker, r.ChunkID)
		if r.Via != "" {
			fmt.Fprintf(w, "    via %s\n", r.Via)
		}
		fmt.Fprintf(w, "    %s\n", snippet(r.Payload.Content, 160))
		if r.Context != nil {
			fmt.Fprintf(w, "    context: %d nodes, %d edges\n", len(r.Context.Nodes), len(r.Context.Edges))
		}
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func exploreCommand() *cli.Command {
	return &cli.Command{
		Name:      "explore",
		Usage:     "Show the graph neighbourhood of an entity",
		ArgsUsage: "<entity id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "depth",
				Usage: "Exploration depth (configured default when 0)",
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Edge direction (out, in, both)",
				Value: string(storage.DirectionBoth),
			},
			&cli.StringSliceFlag{
				Name:  "type",
				Usage: "Relationship type to follow (repeatable)",
			},
		},
		Action: exploreAction,
	}
}

func exploreAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one entity id argument")
	}
	direction := storage.Direction(c.String("direction"))
	switch direction {
	case storage.DirectionOut, storage.DirectionIn, storage.DirectionBoth:
	default:
		return fmt.Errorf("invalid direction %q: must be one of out, in, both", direction)
	}
	var relTypes []core.RelationshipType
	for _, t := range c.StringSlice("type") {
		relTypes = append(relTypes, core.RelationshipType(t))
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	sub, err := svc.Graph().Explore(c.Context, c.Args().First(), c.Int("depth"), direction, relTypes)
	if err != nil {
		return err
	}
	printSubgraph(c.App.Writer, sub)
	return nil
}

func printSubgraph(w io.Writer, sub *storage.Subgraph) {
	fmt.Fprintf(w, "%s  %s\n", sub.Center.ID, sub.Center.Title)
	fmt.Fprintf(w, "Depth reached: %d\n", sub.DepthReached)
	fmt.Fprintf(w, "Nodes (%d):\n", len(sub.Nodes))
	for _, n := range sub.Nodes {
		fmt.Fprintf(w, "  %-40s %s\n", n.ID, n.Title)
	}
	fmt.Fprintf(w, "Edges (%d):\n", len(sub.Edges))
	for _, e := range sub.Edges {
		fmt.Fprintf(w, "  %s -[%s]-> %s\n", e.SourceID, e.Type, e.TargetID)
	}
}
