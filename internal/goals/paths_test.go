package goals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attriflow/internal/goals"
	"attriflow/internal/testsupport"
)

func TestValidPathsEnumeratesSimplePaths(t *testing.T) {
	engine, db := newEngine(t)

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	c := testsupport.CreateTestGoal(t, db, 1, "C")
	d := testsupport.CreateTestGoal(t, db, 1, "D")
	testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, a.ID, c.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, b.ID, d.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, c.ID, d.ID, goals.OperatorOR)

	paths, err := engine.ValidPaths(1, []uint{a.ID}, d.ID)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	found := map[string]bool{}
	for _, p := range paths {
		require.Len(t, p.GoalIDs, 3)
		assert.Equal(t, a.ID, p.GoalIDs[0])
		assert.Equal(t, d.ID, p.GoalIDs[2])
		if p.GoalIDs[1] == b.ID {
			found["via-b"] = true
		}
		if p.GoalIDs[1] == c.ID {
			found["via-c"] = true
		}
	}
	assert.True(t, found["via-b"])
	assert.True(t, found["via-c"])
}

func TestValidPathsNeverRevisitsNodes(t *testing.T) {
	engine, db := newEngine(t)

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	c := testsupport.CreateTestGoal(t, db, 1, "C")
	// Cycle between B and C.
	testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, b.ID, c.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, c.ID, b.ID, goals.OperatorOR)

	paths, err := engine.ValidPaths(1, []uint{a.ID}, c.ID)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	seen := map[uint]bool{}
	for _, id := range paths[0].GoalIDs {
		assert.False(t, seen[id], "node %d visited twice", id)
		seen[id] = true
	}
}

func TestValidPathsFlowTagFromMostRecentTaggedEdge(t *testing.T) {
	engine, db := newEngine(t)

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	c := testsupport.CreateTestGoal(t, db, 1, "C")

	tagged := testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	db.Model(&tagged).Update("flow_tag", "onboarding")
	// The final hop carries no tag; the earlier one is inherited.
	testsupport.CreateTestRelationship(t, db, 1, b.ID, c.ID, goals.OperatorOR)

	paths, err := engine.ValidPaths(1, []uint{a.ID}, c.ID)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "onboarding", paths[0].FlowTag)
}

func TestValidPathsRespectsMaxPaths(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	engine := goals.NewEngine(db, testsupport.GetLogger(), goals.PathLimits{MaxPaths: 1, MaxDepth: 50})

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	c := testsupport.CreateTestGoal(t, db, 1, "C")
	d := testsupport.CreateTestGoal(t, db, 1, "D")
	testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, a.ID, c.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, b.ID, d.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, c.ID, d.ID, goals.OperatorOR)

	paths, err := engine.ValidPaths(1, []uint{a.ID}, d.ID)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestValidPathsUnknownTarget(t *testing.T) {
	engine, db := newEngine(t)
	a := testsupport.CreateTestGoal(t, db, 1, "A")

	_, err := engine.ValidPaths(1, []uint{a.ID}, 999)
	var notFound *goals.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestShortestPathPrefersFewestNodes(t *testing.T) {
	engine, db := newEngine(t)

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	c := testsupport.CreateTestGoal(t, db, 1, "C")
	c2 := testsupport.CreateTestGoal(t, db, 1, "C2")
	d := testsupport.CreateTestGoal(t, db, 1, "D")
	// A -> B -> D and A -> C -> C2 -> D.
	testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, b.ID, d.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, a.ID, c.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, c.ID, c2.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, c2.ID, d.ID, goals.OperatorOR)

	path, err := engine.ShortestPath(1, d.ID)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, []uint{a.ID, b.ID, d.ID}, path.GoalIDs)
}

func TestShortestPathUnreachable(t *testing.T) {
	engine, db := newEngine(t)

	a := testsupport.CreateTestGoal(t, db, 1, "A")
	b := testsupport.CreateTestGoal(t, db, 1, "B")
	x := testsupport.CreateTestGoal(t, db, 1, "X")
	y := testsupport.CreateTestGoal(t, db, 1, "Y")
	testsupport.CreateTestRelationship(t, db, 1, a.ID, b.ID, goals.OperatorOR)
	// X and Y form a detached cycle, so neither is an entry point and no
	// entry point reaches them.
	testsupport.CreateTestRelationship(t, db, 1, x.ID, y.ID, goals.OperatorOR)
	testsupport.CreateTestRelationship(t, db, 1, y.ID, x.ID, goals.OperatorOR)

	path, err := engine.ShortestPath(1, y.ID)
	require.NoError(t, err)
	assert.Nil(t, path)
}
