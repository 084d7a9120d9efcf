package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/meshos/core"
)

const (
	// TopN bounds the opportunities and conflicts listed in a Summary.
	TopN = 5

	// aggregateScanLimit bounds the reasoning logs read by Summarize and Drift.
	aggregateScanLimit = 1000
)

// Summary aggregates the reasoning cycles of a workspace since a point in
// time. CriticalIssues counts high severity conflicts.
type Summary struct {
	WorkspaceID          string             `json:"workspace_id"`
	Since                time.Time          `json:"since"`
	GeneratedAt          time.Time          `json:"generated_at"`
	Cycles               int                `json:"cycles"`
	TotalOpportunities   int                `json:"total_opportunities"`
	TotalConflicts       int                `json:"total_conflicts"`
	TotalRecommendations int                `json:"total_recommendations"`
	CriticalIssues       int                `json:"critical_issues"`
	TopOpportunities     []core.Opportunity `json:"top_opportunities"`
	TopConflicts         []core.Conflict    `json:"top_conflicts"`
}

// DriftNode is one party of the contradiction graph.
type DriftNode struct {
	Name           string        `json:"name"`
	Contradictions int           `json:"contradictions"`
	Severity       core.Severity `json:"severity"`
}

// DriftEdge links two parties that appeared in the same conflict.
type DriftEdge struct {
	From           string        `json:"from"`
	To             string        `json:"to"`
	Contradictions int           `json:"contradictions"`
	Severity       core.Severity `json:"severity"`
	// Topics lists the distinct conflict types, first seen first.
	Topics []string `json:"topics"`
}

// DriftGraph is the contradiction graph derived from reported conflicts.
// Nodes are the agents named by the conflicts; Severity is the highest
// severity seen.
type DriftGraph struct {
	WorkspaceID         string      `json:"workspace_id"`
	Since               time.Time   `json:"since"`
	GeneratedAt         time.Time   `json:"generated_at"`
	TotalContradictions int         `json:"total_contradictions"`
	Nodes               []DriftNode `json:"nodes"`
	Edges               []DriftEdge `json:"edges"`
}

// HighSeverityEdges counts edges whose severity is high.
func (g *DriftGraph) HighSeverityEdges() int {
	n := 0
	for _, e := range g.Edges {
		if e.Severity == core.SeverityHigh {
			n++
		}
	}
	return n
}

// Summarize aggregates the logged cycle outputs created at or after since.
// A zero since covers the retained history.
func (r *Reasoner) Summarize(ctx context.Context, workspaceID string, since time.Time) (*Summary, error) {
	results, err := r.resultsSince(ctx, workspaceID, since)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		WorkspaceID:      workspaceID,
		Since:            since,
		GeneratedAt:      r.now().UTC(),
		Cycles:           len(results),
		TopOpportunities: []core.Opportunity{},
		TopConflicts:     []core.Conflict{},
	}
	for _, res := range results {
		s.TotalOpportunities += len(res.Opportunities)
		s.TotalConflicts += len(res.Conflicts)
		s.TotalRecommendations += len(res.Recommendations)
		for _, c := range res.Conflicts {
			if c.Severity == core.SeverityHigh {
				s.CriticalIssues++
			}
		}
		s.TopOpportunities = append(s.TopOpportunities, res.Opportunities...)
		s.TopConflicts = append(s.TopConflicts, res.Conflicts...)
	}

	// results are newest first; stable sorts keep that order among ties
	sort.SliceStable(s.TopOpportunities, func(i, j int) bool {
		return s.TopOpportunities[i].Confidence > s.TopOpportunities[j].Confidence
	})
	sort.SliceStable(s.TopConflicts, func(i, j int) bool {
		return severityRank(s.TopConflicts[i].Severity) > severityRank(s.TopConflicts[j].Severity)
	})
	if len(s.TopOpportunities) > TopN {
		s.TopOpportunities = s.TopOpportunities[:TopN]
	}
	if len(s.TopConflicts) > TopN {
		s.TopConflicts = s.TopConflicts[:TopN]
	}
	return s, nil
}

// Drift builds the contradiction graph over the conflicts logged at or
// after since. Every conflict counts once for each party and once for each
// pair of parties.
func (r *Reasoner) Drift(ctx context.Context, workspaceID string, since time.Time) (*DriftGraph, error) {
	results, err := r.resultsSince(ctx, workspaceID, since)
	if err != nil {
		return nil, err
	}

	nodes := map[string]*DriftNode{}
	edges := map[[2]string]*DriftEdge{}
	g := &DriftGraph{
		WorkspaceID: workspaceID,
		Since:       since,
		GeneratedAt: r.now().UTC(),
		Nodes:       []DriftNode{},
		Edges:       []DriftEdge{},
	}

	// oldest first so edge topics read in the order they appeared
	for i := len(results) - 1; i >= 0; i-- {
		for _, c := range results[i].Conflicts {
			g.TotalContradictions++
			sev := c.Severity
			if severityRank(sev) == 0 {
				sev = core.SeverityLow
			}

			parties := conflictParties(c)
			for _, p := range parties {
				n := nodes[p]
				if n == nil {
					n = &DriftNode{Name: p, Severity: sev}
					nodes[p] = n
				}
				n.Contradictions++
				n.Severity = maxSeverity(n.Severity, sev)
			}
			for a := 0; a < len(parties); a++ {
				for b := a + 1; b < len(parties); b++ {
					key := [2]string{parties[a], parties[b]}
					e := edges[key]
					if e == nil {
						e = &DriftEdge{From: key[0], To: key[1], Severity: sev, Topics: []string{}}
						edges[key] = e
					}
					e.Contradictions++
					e.Severity = maxSeverity(e.Severity, sev)
					if c.Type != "" && !contains(e.Topics, c.Type) {
						e.Topics = append(e.Topics, c.Type)
					}
				}
			}
		}
	}

	for _, n := range nodes {
		g.Nodes = append(g.Nodes, *n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		if g.Nodes[i].Contradictions != g.Nodes[j].Contradictions {
			return g.Nodes[i].Contradictions > g.Nodes[j].Contradictions
		}
		return g.Nodes[i].Name < g.Nodes[j].Name
	})
	for _, e := range edges {
		g.Edges = append(g.Edges, *e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if ra, rb := severityRank(a.Severity), severityRank(b.Severity); ra != rb {
			return ra > rb
		}
		if a.Contradictions != b.Contradictions {
			return a.Contradictions > b.Contradictions
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return g, nil
}

// resultsSince decodes the logged cycle results, newest first. Logs whose
// outputs do not decode are skipped.
func (r *Reasoner) resultsSince(ctx context.Context, workspaceID string, since time.Time) ([]core.CycleResult, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	logs, err := r.logs.ListReasoningLogs(ctx, workspaceID, aggregateScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list reasoning history: %w", err)
	}

	out := make([]core.CycleResult, 0, len(logs))
	for _, l := range logs {
		if l.CreatedAt.Before(since) {
			break
		}
		var res core.CycleResult
		if err := json.Unmarshal(l.Outputs, &res); err != nil {
			r.logger.Warn("Skipping undecodable reasoning log", "log_id", l.ID, "error", err.Error())
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// conflictParties returns the agents and position holders of c, sorted and
// without duplicates.
func conflictParties(c core.Conflict) []string {
	seen := map[string]bool{}
	parties := make([]string, 0, len(c.Agents)+len(c.Positions))
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			parties = append(parties, name)
		}
	}
	for _, a := range c.Agents {
		add(a)
	}
	for a := range c.Positions {
		add(a)
	}
	sort.Strings(parties)
	return parties
}

func severityRank(s core.Severity) int {
	switch s {
	case core.SeverityLow:
		return 1
	case core.SeverityMedium:
		return 2
	case core.SeverityHigh:
		return 3
	default:
		return 0
	}
}

func maxSeverity(a, b core.Severity) core.Severity {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
