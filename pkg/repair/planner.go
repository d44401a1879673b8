package repair

import "sort"

// NodeInfo is the planner's view of one candidate node, grounded on
// cyxcloud-rebalancer/src/network_client.rs's GrpcNetworkClient.get_node_info.
type NodeInfo struct {
	ID               string
	Address          string
	AvailableStorage int64
	Load             float64
	Datacenter       string
	Healthy          bool
}

// PlannerConfig mirrors cyxcloud-rebalancer's PlannerConfig, as used by
// main.rs's RebalancerService::new.
type PlannerConfig struct {
	MaxTasks      int
	MaxBytes      int64
	PreferLocal   bool
	MaxNodeLoad   float64
	MaxPerSource  int
	MaxPerTarget  int
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxTasks:     100,
		MaxBytes:     10 * 1024 * 1024 * 1024,
		PreferLocal:  false,
		MaxNodeLoad:  0.8,
		MaxPerSource: 3,
		MaxPerTarget: 3,
	}
}

// RepairTask is one planned chunk transfer.
type RepairTask struct {
	ChunkID  string
	Source   string
	Targets  []string
	Bytes    int64
	Priority uint32
}

// RepairPlan is the bounded, ordered output of one planning pass.
type RepairPlan struct {
	Tasks      []RepairTask
	SkippedLow int // issues dropped by MaxTasks/MaxBytes caps or for lack of a usable source or target
}

// Planner maps prioritized ChunkIssues onto the node fleet, respecting
// spec.md §4.9's rate, load and per-node caps.
type Planner struct {
	config PlannerConfig
}

func NewPlanner(config PlannerConfig) *Planner {
	return &Planner{config: config}
}

// CreatePlan builds a RepairPlan from a prioritized issue list and the
// current node fleet. chunkBytes supplies each chunk's shard size in bytes
// (the planner has no byte-size knowledge of its own; the caller looks it
// up from C4's ChunkRecord).
func (p *Planner) CreatePlan(issues []ChunkIssue, nodes []NodeInfo, chunkBytes map[string]int64) RepairPlan {
	byID := make(map[string]NodeInfo, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	sorted := make([]ChunkIssue, len(issues))
	copy(sorted, issues)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	sourceCount := make(map[string]int)
	targetCount := make(map[string]int)

	var plan RepairPlan
	var bytesUsed int64

	for _, issue := range sorted {
		if len(plan.Tasks) >= p.config.MaxTasks {
			plan.SkippedLow++
			continue
		}

		need := issue.Target - issue.Current
		if need <= 0 {
			continue
		}

		size := chunkBytes[issue.ChunkID]
		if p.config.MaxBytes > 0 && bytesUsed+size > p.config.MaxBytes {
			plan.SkippedLow++
			continue
		}

		source, ok := p.pickSource(issue, byID, sourceCount)
		if !ok {
			plan.SkippedLow++
			continue
		}

		targets := p.pickTargets(issue, byID, targetCount, need, size)
		if len(targets) == 0 {
			plan.SkippedLow++
			continue
		}

		plan.Tasks = append(plan.Tasks, RepairTask{
			ChunkID:  issue.ChunkID,
			Source:   source,
			Targets:  targets,
			Bytes:    size,
			Priority: issue.Priority,
		})
		bytesUsed += size
		sourceCount[source]++
		for _, t := range targets {
			targetCount[t]++
		}
	}

	return plan
}

func (p *Planner) pickSource(issue ChunkIssue, byID map[string]NodeInfo, sourceCount map[string]int) (string, bool) {
	best := ""
	bestLoad := 2.0 // above any valid Load()
	for _, nodeID := range issue.CurrentNodes {
		n, ok := byID[nodeID]
		if !ok || !n.Healthy {
			continue
		}
		if sourceCount[nodeID] >= p.config.MaxPerSource {
			continue
		}
		if n.Load < bestLoad {
			bestLoad = n.Load
			best = nodeID
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// pickTargets excludes nodes already holding the chunk, unhealthy nodes,
// overloaded nodes and nodes without enough space, then prefers nodes in a
// different datacenter from any current replica (reversed when PreferLocal
// is set), breaking ties by lowest load then highest available storage.
func (p *Planner) pickTargets(issue ChunkIssue, byID map[string]NodeInfo, targetCount map[string]int, need int, size int64) []string {
	current := make(map[string]bool, len(issue.CurrentNodes))
	currentDCs := make(map[string]bool)
	for _, id := range issue.CurrentNodes {
		current[id] = true
		if n, ok := byID[id]; ok {
			currentDCs[n.Datacenter] = true
		}
	}

	var candidates []NodeInfo
	for _, n := range byID {
		if current[n.ID] || !n.Healthy {
			continue
		}
		if n.Load >= p.config.MaxNodeLoad {
			continue
		}
		if n.AvailableStorage < size {
			continue
		}
		if targetCount[n.ID] >= p.config.MaxPerTarget {
			continue
		}
		candidates = append(candidates, n)
	}

	sort.Slice(candidates, func(i, j int) bool {
		iDiff := !currentDCs[candidates[i].Datacenter]
		jDiff := !currentDCs[candidates[j].Datacenter]
		if p.config.PreferLocal {
			iDiff, jDiff = !iDiff, !jDiff
		}
		if iDiff != jDiff {
			return iDiff
		}
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		return candidates[i].AvailableStorage > candidates[j].AvailableStorage
	})

	if len(candidates) > need {
		candidates = candidates[:need]
	}

	targets := make([]string, len(candidates))
	for i, n := range candidates {
		targets[i] = n.ID
	}
	return targets
}
