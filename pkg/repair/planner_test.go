package repair_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/repair"
)

func TestCreatePlanPicksSourceAndTargetsExcludingCurrentAndUnhealthy(t *testing.T) {
	issue := repair.ChunkIssue{
		ChunkID:      "chunk-a",
		Health:       repair.HealthUnderReplicated,
		Current:      1,
		Target:       3,
		CurrentNodes: []string{"n1"},
		Priority:     700,
	}

	nodes := []repair.NodeInfo{
		{ID: "n1", Datacenter: "dc1", Healthy: true, Load: 0.1, AvailableStorage: 1000},
		{ID: "n2", Datacenter: "dc2", Healthy: true, Load: 0.2, AvailableStorage: 1000},
		{ID: "n3", Datacenter: "dc1", Healthy: true, Load: 0.9, AvailableStorage: 1000}, // overloaded
		{ID: "n4", Datacenter: "dc2", Healthy: false, Load: 0.1, AvailableStorage: 1000}, // unhealthy
		{ID: "n5", Datacenter: "dc3", Healthy: true, Load: 0.3, AvailableStorage: 10},    // too small
	}

	planner := repair.NewPlanner(repair.DefaultPlannerConfig())
	plan := planner.CreatePlan([]repair.ChunkIssue{issue}, nodes, map[string]int64{"chunk-a": 100})

	require.Len(t, plan.Tasks, 1)
	task := plan.Tasks[0]
	require.Equal(t, "n1", task.Source)
	require.Equal(t, []string{"n2"}, task.Targets)
}

func TestCreatePlanRespectsMaxTasksCap(t *testing.T) {
	issues := []repair.ChunkIssue{
		{ChunkID: "a", Current: 0, Target: 1, CurrentNodes: []string{"n1"}, Priority: 900},
		{ChunkID: "b", Current: 0, Target: 1, CurrentNodes: []string{"n1"}, Priority: 800},
	}
	nodes := []repair.NodeInfo{
		{ID: "n1", Healthy: true, AvailableStorage: 1000},
		{ID: "n2", Healthy: true, AvailableStorage: 1000},
	}

	cfg := repair.DefaultPlannerConfig()
	cfg.MaxTasks = 1
	planner := repair.NewPlanner(cfg)
	plan := planner.CreatePlan(issues, nodes, map[string]int64{"a": 10, "b": 10})

	require.Len(t, plan.Tasks, 1)
	require.Equal(t, "a", plan.Tasks[0].ChunkID) // higher priority wins the single slot
	require.Equal(t, 1, plan.SkippedLow)
}

func TestCreatePlanEnforcesPerNodeCaps(t *testing.T) {
	issues := []repair.ChunkIssue{
		{ChunkID: "a", Current: 0, Target: 1, CurrentNodes: []string{"src"}, Priority: 900},
		{ChunkID: "b", Current: 0, Target: 1, CurrentNodes: []string{"src"}, Priority: 800},
	}
	nodes := []repair.NodeInfo{
		{ID: "src", Healthy: true, AvailableStorage: 1000},
		{ID: "only-target", Healthy: true, AvailableStorage: 1000},
	}

	cfg := repair.DefaultPlannerConfig()
	cfg.MaxPerTarget = 1
	planner := repair.NewPlanner(cfg)
	plan := planner.CreatePlan(issues, nodes, map[string]int64{"a": 10, "b": 10})

	require.Len(t, plan.Tasks, 1)
	require.Equal(t, 1, plan.SkippedLow)
}
