// Package graph builds the skill relationship graph from stored skills
// and directed links. It is pure: storage hands in the rows and the
// package derives nodes, edges, and aggregate stats.
package graph

import (
	"sort"

	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// Link types. Symmetric types are their own reverse.
const (
	LinkDependsOn     = "depends_on"
	LinkExtends       = "extends"
	LinkComposesWith  = "composes_with"
	LinkAlternativeTo = "alternative_to"
	LinkRelatedTo     = "related_to"
	LinkDerivedFrom   = "derived_from"
	LinkParentOf      = "parent_of"
)

// reverseTypes maps each link type to how the relationship reads from
// the target's side.
var reverseTypes = map[string]string{
	LinkDependsOn:     "depended_by",
	LinkExtends:       "extended_by",
	LinkComposesWith:  LinkComposesWith,
	LinkAlternativeTo: LinkAlternativeTo,
	LinkRelatedTo:     LinkRelatedTo,
	LinkDerivedFrom:   "derives",
	LinkParentOf:      "child_of",
}

// ValidLinkType reports whether t is a known link type.
func ValidLinkType(t string) bool {
	_, ok := reverseTypes[t]
	return ok
}

// ReverseType returns how a link of type t reads from the target's
// side, or t itself when unknown.
func ReverseType(t string) string {
	if rev, ok := reverseTypes[t]; ok {
		return rev
	}
	return t
}

// Node is one skill in the relationship graph.
type Node struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Category  string               `json:"category,omitempty"`
	Status    governance.Status    `json:"status"`
	RiskLevel governance.RiskLevel `json:"risk_level"`
	LinkCount int                  `json:"link_count"`
}

// Edge is one directed relationship between two nodes.
type Edge struct {
	SourceID      string  `json:"source"`
	TargetID      string  `json:"target"`
	Type          string  `json:"link_type"`
	ReverseType   string  `json:"reverse_type"`
	Strength      float64 `json:"strength"`
	Bidirectional bool    `json:"bidirectional"`
}

// Stats summarizes the graph.
type Stats struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	OrphanCount int            `json:"orphan_count"`
	LinkTypes   map[string]int `json:"link_types"`
}

// Graph is the full relationship graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// Build derives the graph from skills and links. Links referencing a
// skill that no longer exists are dropped rather than producing
// dangling edges.
func Build(skills []governance.Skill, links []governance.SkillLink) Graph {
	counts := make(map[string]int, len(skills))
	known := make(map[string]bool, len(skills))
	for _, skill := range skills {
		known[skill.ID] = true
	}

	edges := make([]Edge, 0, len(links))
	linkTypes := make(map[string]int)
	for _, link := range links {
		if !known[link.SourceID] || !known[link.TargetID] {
			continue
		}
		edges = append(edges, Edge{
			SourceID:      link.SourceID,
			TargetID:      link.TargetID,
			Type:          link.Type,
			ReverseType:   ReverseType(link.Type),
			Strength:      link.Strength,
			Bidirectional: link.Bidirectional,
		})
		linkTypes[link.Type]++
		counts[link.SourceID]++
		counts[link.TargetID]++
	}

	nodes := make([]Node, 0, len(skills))
	orphans := 0
	for _, skill := range skills {
		if counts[skill.ID] == 0 {
			orphans++
		}
		nodes = append(nodes, Node{
			ID:        skill.ID,
			Name:      skill.Name,
			Category:  skill.Category,
			Status:    skill.Status,
			RiskLevel: skill.RiskLevel,
			LinkCount: counts[skill.ID],
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	return Graph{
		Nodes: nodes,
		Edges: edges,
		Stats: Stats{
			NodeCount:   len(nodes),
			EdgeCount:   len(edges),
			OrphanCount: orphans,
			LinkTypes:   linkTypes,
		},
	}
}

// Neighbors returns the edges touching skillID, from either side.
func (g Graph) Neighbors(skillID string) []Edge {
	var out []Edge
	for _, edge := range g.Edges {
		if edge.SourceID == skillID || edge.TargetID == skillID {
			out = append(out, edge)
		}
	}
	return out
}
