package goals

import (
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// FunnelGraph is the in-memory view of one organization's goal graph,
// rebuilt on demand and never cached.
type FunnelGraph struct {
	Nodes       map[uint]ConversionGoal
	Edges       []GoalRelationship
	Branches    []GoalBranch
	FlowTags    []string
	EntryPoints []uint
	ExitPoints  []uint

	outgoing map[uint][]GoalRelationship
	incoming map[uint][]GoalRelationship
}

// Outgoing returns the edges leaving a goal.
func (g *FunnelGraph) Outgoing(goalID uint) []GoalRelationship {
	return g.outgoing[goalID]
}

// Incoming returns the edges entering a goal.
func (g *FunnelGraph) Incoming(goalID uint) []GoalRelationship {
	return g.incoming[goalID]
}

// BuildGraph loads the organization's active goals, relationships and branch
// records inside one read transaction, so concurrent edits can at worst hide
// a just-added edge, never produce dangling ones. Relationships whose
// endpoints reference inactive or missing goals are dropped silently, as are
// branch records whose goal or every child is gone: the graph must always be
// renderable. FlowTags is the distinct set of tags observed across the kept
// edges and branches, sorted.
func BuildGraph(db *gorm.DB, organizationID uint) (*FunnelGraph, error) {
	var goals []ConversionGoal
	var relationships []GoalRelationship
	var branches []GoalBranch

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ? AND active = ?", organizationID, true).
			Order("display_order ASC, id ASC").
			Find(&goals).Error; err != nil {
			return fmt.Errorf("failed to load goals: %w", err)
		}
		if err := tx.Where("organization_id = ?", organizationID).
			Order("id ASC").
			Find(&relationships).Error; err != nil {
			return fmt.Errorf("failed to load goal relationships: %w", err)
		}
		if err := tx.Where("organization_id = ?", organizationID).
			Order("id ASC").
			Find(&branches).Error; err != nil {
			return fmt.Errorf("failed to load goal branches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	graph := &FunnelGraph{
		Nodes:    make(map[uint]ConversionGoal, len(goals)),
		outgoing: make(map[uint][]GoalRelationship),
		incoming: make(map[uint][]GoalRelationship),
	}
	for _, g := range goals {
		graph.Nodes[g.ID] = g
	}

	tagSet := make(map[string]struct{})
	for _, rel := range relationships {
		if _, ok := graph.Nodes[rel.UpstreamID]; !ok {
			continue
		}
		if _, ok := graph.Nodes[rel.DownstreamID]; !ok {
			continue
		}
		graph.Edges = append(graph.Edges, rel)
		graph.outgoing[rel.UpstreamID] = append(graph.outgoing[rel.UpstreamID], rel)
		graph.incoming[rel.DownstreamID] = append(graph.incoming[rel.DownstreamID], rel)
		if rel.FlowTag != "" {
			tagSet[rel.FlowTag] = struct{}{}
		}
	}

	for _, branch := range branches {
		if _, ok := graph.Nodes[branch.GoalID]; !ok {
			continue
		}
		children, err := branch.Children()
		if err != nil {
			continue
		}
		resolvable := false
		for _, childID := range children {
			if _, ok := graph.Nodes[childID]; ok {
				resolvable = true
				break
			}
		}
		if !resolvable {
			continue
		}
		graph.Branches = append(graph.Branches, branch)
		tags, err := branch.Tags()
		if err != nil {
			continue
		}
		for _, tag := range tags {
			if tag != "" {
				tagSet[tag] = struct{}{}
			}
		}
	}

	for tag := range tagSet {
		graph.FlowTags = append(graph.FlowTags, tag)
	}
	sort.Strings(graph.FlowTags)

	for id := range graph.Nodes {
		if len(graph.incoming[id]) == 0 {
			graph.EntryPoints = append(graph.EntryPoints, id)
		}
		if len(graph.outgoing[id]) == 0 {
			graph.ExitPoints = append(graph.ExitPoints, id)
		}
	}
	sort.Slice(graph.EntryPoints, func(i, j int) bool { return graph.EntryPoints[i] < graph.EntryPoints[j] })
	sort.Slice(graph.ExitPoints, func(i, j int) bool { return graph.ExitPoints[i] < graph.ExitPoints[j] })

	return graph, nil
}
