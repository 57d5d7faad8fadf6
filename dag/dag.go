// Package dag wraps gonum's directed graph with string-labelled nodes,
// Kahn's-algorithm topological sorting, and Graphviz export.
package dag

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

type Graph struct {
	*simple.DirectedGraph
	attrs  encoding.Attributes
	labels map[int64]string
}

func New() *Graph {
	return &Graph{
		DirectedGraph: simple.NewDirectedGraph(),
		labels:        make(map[int64]string),
	}
}

// AddNode adds a labelled node and returns its id.
func (g *Graph) AddNode(label string) int64 {
	n := &Node{Node: g.DirectedGraph.NewNode()}
	if err := n.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
		panic(err)
	}
	g.DirectedGraph.AddNode(n)
	g.labels[n.ID()] = label
	return n.ID()
}

// Label returns the label the node was added with.
func (g *Graph) Label(id int64) string {
	return g.labels[id]
}

// AddEdge adds a directed edge from -> to. Self edges are rejected.
func (g *Graph) AddEdge(from, to int64) error {
	if from == to {
		return fmt.Errorf("self edge on node %d", from)
	}
	fromNode := g.Node(from)
	if fromNode == nil {
		return fmt.Errorf("node does not exist: %d", from)
	}
	toNode := g.Node(to)
	if toNode == nil {
		return fmt.Errorf("node does not exist: %d", to)
	}
	g.SetEdge(simple.Edge{F: fromNode, T: toNode})
	return nil
}

// TopoSort orders the nodes so that every node appears after all of its
// predecessors, using Kahn's algorithm. Ties break toward the lowest node id
// so the order is deterministic for a given graph. A cycle yields an error.
func (g *Graph) TopoSort() ([]int64, error) {
	var all []int64
	it := g.Nodes()
	for it.Next() {
		all = append(all, it.Node().ID())
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	indegree := make(map[int64]int, len(all))
	for _, id := range all {
		n := 0
		preds := g.To(id)
		for preds.Next() {
			n++
		}
		indegree[id] = n
	}

	ready := make([]int64, 0, len(all))
	for _, id := range all {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]int64, 0, len(all))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		succs := g.From(id)
		for succs.Next() {
			s := succs.Node().ID()
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) != len(all) {
		return nil, fmt.Errorf("graph contains a cycle (%d of %d nodes ordered)", len(order), len(all))
	}
	return order, nil
}

func (g *Graph) Attributers() (encoding.Attributer, encoding.Attributer, encoding.Attributer) {
	return &Graph{}, &Node{}, &edge{}
}

func (g *Graph) Attributes() []encoding.Attribute {
	return g.attrs.Attributes()
}

func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

type Node struct {
	graph.Node
	attrs encoding.Attributes
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, "", "", "")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %v", err)
	}
	return string(data), nil
}

func (g *Graph) NewEdge(from, to graph.Node) graph.Edge {
	return &edge{Edge: g.DirectedGraph.NewEdge(from, to)}
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}
