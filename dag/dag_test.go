package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoSortChain(t *testing.T) {
	g := New()
	a := g.AddNode("a")
	b := g.AddNode("b")
	c := g.AddNode("c")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b, c}, order)
}

func TestTopoSortDiamond(t *testing.T) {
	g := New()
	root := g.AddNode("root")
	left := g.AddNode("left")
	right := g.AddNode("right")
	join := g.AddNode("join")
	require.NoError(t, g.AddEdge(root, left))
	require.NoError(t, g.AddEdge(root, right))
	require.NoError(t, g.AddEdge(left, join))
	require.NoError(t, g.AddEdge(right, join))

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Len(t, order, 4)
	assert.Equal(t, root, order[0])
	assert.Equal(t, join, order[3])

	// Every node must come after all of its predecessors.
	pos := make(map[int64]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[root], pos[left])
	assert.Less(t, pos[root], pos[right])
	assert.Less(t, pos[left], pos[join])
	assert.Less(t, pos[right], pos[join])
}

func TestTopoSortDeterministic(t *testing.T) {
	build := func() *Graph {
		g := New()
		a := g.AddNode("a")
		b := g.AddNode("b")
		c := g.AddNode("c")
		d := g.AddNode("d")
		require.NoError(t, g.AddEdge(a, c))
		require.NoError(t, g.AddEdge(b, c))
		require.NoError(t, g.AddEdge(a, d))
		return g
	}

	first, err := build().TopoSort()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := build().TopoSort()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTopoSortCycle(t *testing.T) {
	g := New()
	a := g.AddNode("a")
	b := g.AddNode("b")
	c := g.AddNode("c")
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))
	require.NoError(t, g.AddEdge(c, a))

	_, err := g.TopoSort()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestAddEdgeRejectsSelfAndUnknown(t *testing.T) {
	g := New()
	a := g.AddNode("a")

	assert.Error(t, g.AddEdge(a, a))
	assert.Error(t, g.AddEdge(a, 42))
	assert.Error(t, g.AddEdge(42, a))
}

func TestLabels(t *testing.T) {
	g := New()
	a := g.AddNode("reserve_inventory")
	b := g.AddNode("charge_payment")

	assert.Equal(t, "reserve_inventory", g.Label(a))
	assert.Equal(t, "charge_payment", g.Label(b))
	assert.Equal(t, "", g.Label(99))
}

func TestExportToDot(t *testing.T) {
	g := New()
	a := g.AddNode("first")
	b := g.AddNode("second")
	require.NoError(t, g.AddEdge(a, b))

	out, err := g.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "->")
}
