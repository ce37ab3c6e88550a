package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/gonogo/rtm/internal/rtm"
)

// BuildDependencyGraph renders the Epic dependency graph restricted to
// kinds (§4.4.2 Render). An empty kinds list defaults to blocks only, the
// only kind that participates in acyclicity and the graph analytics below.
func (e *Engine) BuildDependencyGraph(ctx context.Context, kinds []rtm.DependencyKind) (*DependencyGraph, error) {
	if len(kinds) == 0 {
		kinds = []rtm.DependencyKind{rtm.DependencyKindBlocks}
	}

	edges, err := e.store.ListEpicDependencies(ctx, kinds)
	if err != nil {
		return nil, fmt.Errorf("report: list epic dependencies: %w", err)
	}

	epics, err := e.store.ListEpics(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("report: list epics: %w", err)
	}

	graph := &DependencyGraph{}
	for _, epic := range epics {
		graph.Nodes = append(graph.Nodes, GraphNode{EpicID: epic.ID, Title: epic.Title, Status: epic.Status})
	}
	for _, dep := range edges {
		graph.Edges = append(graph.Edges, GraphEdge{
			FromEpicID: dep.FromEpicID,
			ToEpicID:   dep.ToEpicID,
			Kind:       dep.Kind,
			Rationale:  dep.Rationale,
		})
	}

	return graph, nil
}

// blocksAdjacency builds the adjacency list of the blocks-only subgraph:
// fromEpicID -> epics it blocks.
func blocksAdjacency(edges []rtm.EpicDependency) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Kind != rtm.DependencyKindBlocks {
			continue
		}
		adj[e.FromEpicID] = append(adj[e.FromEpicID], e.ToEpicID)
	}
	return adj
}

// FindCycles runs Tarjan's strongly-connected-components algorithm over the
// blocks subgraph and returns every SCC of size greater than one — each
// such component is a cycle the incremental insertion-time check (the
// Store's wouldCreateCycle) should never have allowed, but this whole-graph
// pass exists so the UI can highlight one if the edge set was seeded or
// migrated in from elsewhere (§4.4.2).
func (e *Engine) FindCycles(ctx context.Context) ([]Cycle, error) {
	edges, err := e.store.ListEpicDependencies(ctx, []rtm.DependencyKind{rtm.DependencyKindBlocks})
	if err != nil {
		return nil, fmt.Errorf("report: list blocks dependencies: %w", err)
	}

	adj := blocksAdjacency(edges)

	t := &tarjan{
		adj:     adj,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}

	nodes := make(map[string]struct{})
	for from, tos := range adj {
		nodes[from] = struct{}{}
		for _, to := range tos {
			nodes[to] = struct{}{}
		}
	}

	var ordered []string
	for id := range nodes {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	for _, id := range ordered {
		if _, seen := t.index[id]; !seen {
			t.strongconnect(id)
		}
	}

	var cycles []Cycle
	for _, scc := range t.sccs {
		if len(scc) > 1 {
			cycles = append(cycles, Cycle{EpicIDs: scc})
		}
	}

	return cycles, nil
}

// tarjan holds the working state of one Tarjan's-algorithm run. index and
// lowlink are Go maps instead of a node-indexed slice because Epic IDs are
// strings (EP-NNNNN-style identifiers are not a dense integer range).
type tarjan struct {
	adj     map[string][]string
	index   map[string]int
	lowlink map[string]int
	onStack map[string]bool
	stack   []string
	counter int
	sccs    [][]string
}

func (t *tarjan) strongconnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	neighbors := append([]string(nil), t.adj[v]...)
	sort.Strings(neighbors)

	for _, w := range neighbors {
		if _, seen := t.index[w]; !seen {
			t.strongconnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// CriticalPath computes the longest weighted path on the blocks DAG from
// any root (a node with no blocking predecessor) to targetEpicID, using a
// topological-order dynamic program over story-point weights. Ties between
// equally-long paths are broken by earliest Epic created_at (§4.4.2).
//
// Precondition: the blocks subgraph is acyclic. This is enforced by the
// Store at edge-insertion time, so a cycle reaching targetEpicID here
// indicates the graph was mutated outside that path; CriticalPath reports
// ErrGraphHasCycle rather than looping.
func (e *Engine) CriticalPath(ctx context.Context, targetEpicID string) (*CriticalPath, error) {
	edges, err := e.store.ListEpicDependencies(ctx, []rtm.DependencyKind{rtm.DependencyKindBlocks})
	if err != nil {
		return nil, fmt.Errorf("report: list blocks dependencies: %w", err)
	}

	epics, err := e.store.ListEpics(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("report: list epics: %w", err)
	}

	weight := make(map[string]int, len(epics))
	createdAt := make(map[string]int64, len(epics))
	for _, epic := range epics {
		points, err := e.epicWeight(ctx, epic.ID)
		if err != nil {
			return nil, err
		}
		weight[epic.ID] = points
		createdAt[epic.ID] = epic.CreatedAt.Unix()
	}

	// predecessors[x] = epics that directly block x
	predecessors := make(map[string][]string)
	for _, edge := range edges {
		predecessors[edge.ToEpicID] = append(predecessors[edge.ToEpicID], edge.FromEpicID)
	}

	order, err := topologicalOrder(blocksAdjacency(edges), epicIDs(epics))
	if err != nil {
		return nil, err
	}

	// best[id] = longest weighted path ending at id, predecessor[id] = the
	// chosen predecessor on that path.
	best := make(map[string]int, len(order))
	predecessor := make(map[string]string, len(order))

	for _, id := range order {
		best[id] = weight[id]
		for _, pred := range predecessors[id] {
			candidate := best[pred] + weight[id]
			switch {
			case candidate > best[id]:
				best[id] = candidate
				predecessor[id] = pred
			case candidate == best[id] && predecessor[id] != "" &&
				createdAt[pred] < createdAt[predecessor[id]]:
				predecessor[id] = pred
			}
		}
	}

	if _, ok := weight[targetEpicID]; !ok {
		return nil, fmt.Errorf("report: critical path: %w: %s", ErrUnknownEpic, targetEpicID)
	}

	var steps []CriticalPathStep
	for id := targetEpicID; id != ""; id = predecessor[id] {
		steps = append([]CriticalPathStep{{EpicID: id, Weight: weight[id]}}, steps...)
	}

	return &CriticalPath{
		TargetEpicID: targetEpicID,
		Steps:        steps,
		TotalWeight:  best[targetEpicID],
	}, nil
}

// epicWeight is the story-point sum of an Epic's UserStories, the weight
// unit the critical-path DP uses (§4.4.2 "story points or calendar estimate
// per Epic"; this engine uses story points, the unit already tracked on
// every UserStory).
func (e *Engine) epicWeight(ctx context.Context, epicID string) (int, error) {
	key := "epic_weight:" + epicID
	if cached, ok := e.cache.get(key); ok {
		return cached.(int), nil
	}

	stories, err := e.store.ListUserStories(ctx, storyFilterForEpic(epicID))
	if err != nil {
		return 0, fmt.Errorf("report: epic weight %s: %w", epicID, err)
	}

	var total int
	for _, s := range stories {
		total += s.StoryPoints
	}

	e.cache.set(key, total)
	return total, nil
}

// topologicalOrder returns a topological ordering of ids over adj via
// Kahn's algorithm, detecting a residual cycle by comparing the emitted
// count against len(ids).
func topologicalOrder(adj map[string][]string, ids []string) ([]string, error) {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, tos := range adj {
		for _, to := range tos {
			inDegree[to]++
		}
	}

	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var next []string
		for _, to := range adj[n] {
			inDegree[to]--
			if inDegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) != len(ids) {
		return nil, ErrGraphHasCycle
	}

	return order, nil
}

// Blocks returns the transitive blocks* closure of epicID: every Epic that
// epicID blocks, directly or indirectly (§4.4.2 "what does this Epic
// block?").
func (e *Engine) Blocks(ctx context.Context, epicID string) ([]string, error) {
	edges, err := e.store.ListEpicDependencies(ctx, []rtm.DependencyKind{rtm.DependencyKindBlocks})
	if err != nil {
		return nil, fmt.Errorf("report: list blocks dependencies: %w", err)
	}

	adj := blocksAdjacency(edges)

	visited := make(map[string]bool)
	var visit func(string)
	visit = func(id string) {
		for _, next := range adj[id] {
			if !visited[next] {
				visited[next] = true
				visit(next)
			}
		}
	}
	visit(epicID)

	var out []string
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)

	return out, nil
}

func epicIDs(epics []rtm.Epic) []string {
	ids := make([]string, len(epics))
	for i, e := range epics {
		ids[i] = e.ID
	}
	return ids
}
