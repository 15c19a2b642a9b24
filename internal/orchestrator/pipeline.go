// Package orchestrator implements the Orchestrator subsystem (spec 4.5):
// pipeline configuration, routing rule evaluation, edge-limit enforcement,
// and kernel-side instruction generation for a worker loop.
//
// Grounded on coreengine/config/pipeline.go (PipelineConfig/AgentConfig/
// RoutingRule/Validate) and coreengine/kernel/orchestrator.go (the
// orchestration loop itself, moved here unchanged in spirit). The DAG
// execution fields and operations (Requires/After/RunsWith/JoinStrategy,
// topologicalOrder/adjacencyList, validateDAG, GetReadyStages/GetDependents)
// are dropped: spec 4.5 pins a linear stage_order + routing-rule traversal
// model, not parallel DAG execution (see DESIGN.md).
package orchestrator

import (
	"fmt"
	"sort"
)

// RoutingRule is one conditional hop: if Envelope output Condition equals
// Value, route to Target (spec 4.5).
type RoutingRule struct {
	Condition string `json:"condition"`
	Value     any    `json:"value"`
	Target    string `json:"target"`
}

// AgentConfig describes one stage of a pipeline.
type AgentConfig struct {
	Name       string        `json:"name"`
	StageOrder int           `json:"stage_order"`
	RoutingRules []RoutingRule `json:"routing_rules,omitempty"`
	DefaultNext string        `json:"default_next,omitempty"`
	ErrorNext   string        `json:"error_next,omitempty"`
}

// Validate checks that the agent's own fields are well formed.
func (a *AgentConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent config: name is required")
	}
	if a.StageOrder < 0 {
		return fmt.Errorf("agent config %s: stage_order must be >= 0", a.Name)
	}
	return nil
}

// PipelineConfig describes one orchestration pipeline: its agents, their
// linear stage order, and the bounds the orchestrator enforces.
//
// Grounded on coreengine/config/pipeline.go's PipelineConfig, trimmed of DAG
// fields/validation.
type PipelineConfig struct {
	Name                  string                  `json:"name"`
	Agents                map[string]*AgentConfig `json:"agents"`
	MaxIterations         int                     `json:"max_iterations"`
	MaxAgentHops          int                     `json:"max_agent_hops"`
	DefaultTimeoutSeconds int                     `json:"default_timeout_seconds"`
	EdgeLimits            map[string]int          `json:"edge_limits,omitempty"` // "from->to" -> max traversals

	stageOrder []string
}

// specialStages are synthetic routing targets valid without a matching
// AgentConfig entry (spec 4.5).
var specialStages = map[string]bool{"end": true, "clarification": true, "confirmation": true}

// NewPipelineConfig constructs an empty pipeline ready for AddAgent calls.
func NewPipelineConfig(name string, maxIterations, maxAgentHops, defaultTimeoutSeconds int) *PipelineConfig {
	return &PipelineConfig{
		Name:                  name,
		Agents:                make(map[string]*AgentConfig),
		MaxIterations:         maxIterations,
		MaxAgentHops:          maxAgentHops,
		DefaultTimeoutSeconds: defaultTimeoutSeconds,
		EdgeLimits:            make(map[string]int),
	}
}

// AddAgent registers an agent stage.
func (p *PipelineConfig) AddAgent(a *AgentConfig) {
	p.Agents[a.Name] = a
	p.stageOrder = nil
}

// SetEdgeLimit caps how many times the from->to edge may be traversed in one
// session (spec 4.5: "edge_limits"; 0 or absent means unlimited).
func (p *PipelineConfig) SetEdgeLimit(from, to string, limit int) {
	p.EdgeLimits[fmt.Sprintf("%s->%s", from, to)] = limit
}

// GetEdgeLimit returns the configured limit for from->to, or 0 if unlimited.
func (p *PipelineConfig) GetEdgeLimit(from, to string) int {
	return p.EdgeLimits[fmt.Sprintf("%s->%s", from, to)]
}

// GetAgent returns the AgentConfig for name, or nil if not a real stage
// (callers must separately recognise specialStages).
func (p *PipelineConfig) GetAgent(name string) *AgentConfig { return p.Agents[name] }

// GetStageOrder returns stage names sorted by StageOrder ascending,
// memoized until the next AddAgent call.
func (p *PipelineConfig) GetStageOrder() []string {
	if p.stageOrder != nil {
		return p.stageOrder
	}
	names := make([]string, 0, len(p.Agents))
	for name := range p.Agents {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return p.Agents[names[i]].StageOrder < p.Agents[names[j]].StageOrder
	})
	p.stageOrder = names
	return names
}

// Validate checks every agent, and that every routing target (RoutingRules'
// Target, DefaultNext, ErrorNext) refers either to a real agent or one of
// the special synthetic stages (spec 4.5).
//
// Grounded on coreengine/config/pipeline.go's Validate, minus the
// DAG-cycle-detection pass (validateDAG), since this pipeline model has no
// DAG dependencies to validate.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline config: name is required")
	}
	if len(p.Agents) == 0 {
		return fmt.Errorf("pipeline config %s: at least one agent is required", p.Name)
	}

	seenOrder := make(map[int]string)
	for name, agent := range p.Agents {
		if err := agent.Validate(); err != nil {
			return err
		}
		if other, dup := seenOrder[agent.StageOrder]; dup {
			return fmt.Errorf("pipeline config %s: duplicate stage_order %d (%s, %s)", p.Name, agent.StageOrder, name, other)
		}
		seenOrder[agent.StageOrder] = name

		for _, rule := range agent.RoutingRules {
			if !p.isValidTarget(rule.Target) {
				return fmt.Errorf("pipeline config %s: agent %s routing rule targets unknown stage %q", p.Name, name, rule.Target)
			}
		}
		if agent.DefaultNext != "" && !p.isValidTarget(agent.DefaultNext) {
			return fmt.Errorf("pipeline config %s: agent %s default_next targets unknown stage %q", p.Name, name, agent.DefaultNext)
		}
		if agent.ErrorNext != "" && !p.isValidTarget(agent.ErrorNext) {
			return fmt.Errorf("pipeline config %s: agent %s error_next targets unknown stage %q", p.Name, name, agent.ErrorNext)
		}
	}
	return nil
}

func (p *PipelineConfig) isValidTarget(name string) bool {
	if specialStages[name] {
		return true
	}
	_, ok := p.Agents[name]
	return ok
}
