package search

import "github.com/poiesic/grundgraph/storage"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string, strategy Strategy)
	AfterGraphSeeds(nodeIDs []string)
	AfterGraphExpansion(entityIDs []string)
	AfterVectorSearch(hits []storage.ScoredPoint)
	FellBack(reason string)
	EnrichedHit(result *Result)
	VerbatimHit(result *Result)
	Finish(results []*Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ Strategy)                {}
func (n *noopMonitor) AfterGraphSeeds(_ []string)                {}
func (n *noopMonitor) AfterGraphExpansion(_ []string)            {}
func (n *noopMonitor) AfterVectorSearch(_ []storage.ScoredPoint) {}
func (n *noopMonitor) FellBack(_ string)                         {}
func (n *noopMonitor) EnrichedHit(_ *Result)                     {}
func (n *noopMonitor) VerbatimHit(_ *Result)                     {}
func (n *noopMonitor) Finish(_ []*Result)                        {}
