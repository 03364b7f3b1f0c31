package goals

// PathLimits bounds path enumeration. A highly connected graph has a
// combinatorial number of simple paths, so enumeration stops at MaxPaths
// results or MaxDepth nodes per path and returns the partial set.
type PathLimits struct {
	MaxPaths int
	MaxDepth int
}

// DefaultPathLimits returns the standard enumeration caps.
func DefaultPathLimits() PathLimits {
	return PathLimits{MaxPaths: 1000, MaxDepth: 50}
}

// Path is one node sequence through the goal graph. FlowTag carries the tag
// of the most recently traversed tagged edge, empty when no edge on the path
// carries one.
type Path struct {
	GoalIDs []uint
	FlowTag string
}

// dfsFrame is one explicit-stack step of the path search.
type dfsFrame struct {
	node    uint
	edgeIdx int
	flowTag string
}

// ValidPaths enumerates every simple path from any of fromGoals to toGoal.
// No node repeats within a returned path, which also guards against cycles.
// The search uses an explicit stack rather than recursion so graph depth
// never threatens the goroutine stack.
func (e *Engine) ValidPaths(organizationID uint, fromGoals []uint, toGoal uint) ([]Path, error) {
	graph, err := BuildGraph(e.db, organizationID)
	if err != nil {
		return nil, err
	}
	if _, ok := graph.Nodes[toGoal]; !ok {
		return nil, &NotFoundError{Kind: "goal", ID: toGoal}
	}

	var paths []Path
	for _, start := range fromGoals {
		if _, ok := graph.Nodes[start]; !ok {
			continue
		}
		paths = e.collectPaths(graph, start, toGoal, paths)
		if len(paths) >= e.limits.MaxPaths {
			break
		}
	}
	return paths, nil
}

func (e *Engine) collectPaths(graph *FunnelGraph, start, target uint, paths []Path) []Path {
	stack := []dfsFrame{{node: start}}
	onPath := map[uint]bool{start: true}

	for len(stack) > 0 {
		if len(paths) >= e.limits.MaxPaths {
			return paths
		}
		frame := &stack[len(stack)-1]

		if frame.node == target {
			paths = append(paths, snapshotPath(stack))
			onPath[frame.node] = false
			stack = stack[:len(stack)-1]
			continue
		}

		edges := graph.Outgoing(frame.node)
		advanced := false
		for frame.edgeIdx < len(edges) {
			edge := edges[frame.edgeIdx]
			frame.edgeIdx++
			if onPath[edge.DownstreamID] || len(stack) >= e.limits.MaxDepth {
				continue
			}
			tag := frame.flowTag
			if edge.FlowTag != "" {
				tag = edge.FlowTag
			}
			stack = append(stack, dfsFrame{node: edge.DownstreamID, flowTag: tag})
			onPath[edge.DownstreamID] = true
			advanced = true
			break
		}
		if !advanced {
			onPath[frame.node] = false
			stack = stack[:len(stack)-1]
		}
	}
	return paths
}

func snapshotPath(stack []dfsFrame) Path {
	ids := make([]uint, len(stack))
	for i, frame := range stack {
		ids[i] = frame.node
	}
	return Path{GoalIDs: ids, FlowTag: stack[len(stack)-1].flowTag}
}

// ShortestPath finds the path with the fewest nodes from any entry point to
// toGoal. Each entry point runs its own breadth-first search; the first hit
// within one search is that entry's shortest by the BFS guarantee, and the
// shortest across all entries wins. Returns nil when no entry reaches the
// goal.
func (e *Engine) ShortestPath(organizationID, toGoal uint) (*Path, error) {
	graph, err := BuildGraph(e.db, organizationID)
	if err != nil {
		return nil, err
	}
	if _, ok := graph.Nodes[toGoal]; !ok {
		return nil, &NotFoundError{Kind: "goal", ID: toGoal}
	}

	var best *Path
	for _, entry := range graph.EntryPoints {
		candidate := bfsPath(graph, entry, toGoal)
		if candidate == nil {
			continue
		}
		if best == nil || len(candidate.GoalIDs) < len(best.GoalIDs) {
			best = candidate
		}
	}
	return best, nil
}

func bfsPath(graph *FunnelGraph, start, target uint) *Path {
	type queued struct {
		node uint
		prev *queued
		tag  string
	}

	visited := map[uint]bool{start: true}
	queue := []*queued{{node: start}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.node == target {
			var ids []uint
			for q := current; q != nil; q = q.prev {
				ids = append(ids, q.node)
			}
			for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
				ids[i], ids[j] = ids[j], ids[i]
			}
			return &Path{GoalIDs: ids, FlowTag: current.tag}
		}

		for _, edge := range graph.Outgoing(current.node) {
			if visited[edge.DownstreamID] {
				continue
			}
			visited[edge.DownstreamID] = true
			tag := current.tag
			if edge.FlowTag != "" {
				tag = edge.FlowTag
			}
			queue = append(queue, &queued{node: edge.DownstreamID, prev: current, tag: tag})
		}
	}
	return nil
}
