package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/ranguard/internal/metrics"
	"github.com/jordanhubbard/ranguard/internal/telemetry"
)

// NodeCommander pushes configuration commands to a network node. The
// real implementation talks to the vendor OSS; tests use fakes.
type NodeCommander interface {
	Apply(ctx context.Context, nodeID string, commands []string) error
}

// Result is the outcome of one tool execution against one node.
type Result struct {
	Tool             string   `json:"tool"`
	NodeID           string   `json:"node_id"`
	Commands         []string `json:"commands,omitempty"`
	RollbackCommands []string `json:"rollback_commands,omitempty"`
	Summary          string   `json:"summary"`
	Success          bool     `json:"success"`
}

// Executor turns tool invocations into node configuration changes.
type Executor struct {
	commander NodeCommander
	metrics   *metrics.Metrics
}

func NewExecutor(commander NodeCommander) *Executor {
	return &Executor{commander: commander, metrics: metrics.NewMetrics()}
}

// Execute runs a network-changing tool against a node. Utility tools
// never reach the executor; calling one here is an error.
func (e *Executor) Execute(ctx context.Context, tool, nodeID string, args map[string]interface{}) (*Result, error) {
	if IsUtility(tool) {
		return nil, fmt.Errorf("utility tool %s cannot be executed against a node", tool)
	}

	commands, rollback, summary := buildCommands(tool, nodeID, args)

	result := &Result{
		Tool:             tool,
		NodeID:           nodeID,
		Commands:         commands,
		RollbackCommands: rollback,
		Summary:          summary,
	}

	telemetry.ToolsExecuted.Add(ctx, 1)

	if err := e.commander.Apply(ctx, nodeID, commands); err != nil {
		e.metrics.ToolExecutions.WithLabelValues(tool, "failed").Inc()
		result.Success = false
		result.Summary = fmt.Sprintf("failed to apply %s on %s: %v", tool, nodeID, err)
		return result, err
	}

	e.metrics.ToolExecutions.WithLabelValues(tool, "success").Inc()
	result.Success = true
	return result, nil
}

// buildCommands maps a tool to the node configuration commands it
// applies and the commands that undo it.
func buildCommands(tool, nodeID string, args map[string]interface{}) (commands, rollback []string, summary string) {
	switch tool {
	case "activate_mlb":
		return []string{fmt.Sprintf("set %s loadBalancing enabled true", nodeID)},
			[]string{fmt.Sprintf("set %s loadBalancing enabled false", nodeID)},
			"Activated mobility load balancing"
	case "deactivate_mlb":
		return []string{fmt.Sprintf("set %s loadBalancing enabled false", nodeID)},
			[]string{fmt.Sprintf("set %s loadBalancing enabled true", nodeID)},
			"Deactivated mobility load balancing"
	case "activate_ca":
		return []string{fmt.Sprintf("set %s carrierAggregation enabled true", nodeID)},
			[]string{fmt.Sprintf("set %s carrierAggregation enabled false", nodeID)},
			"Activated carrier aggregation"
	case "deactivate_ca":
		return []string{fmt.Sprintf("set %s carrierAggregation enabled false", nodeID)},
			[]string{fmt.Sprintf("set %s carrierAggregation enabled true", nodeID)},
			"Deactivated carrier aggregation"
	case "change_dss":
		ratio := intArg(args, "ratio", 50)
		return []string{fmt.Sprintf("set %s dss spectrumShareRatio %d", nodeID, ratio)},
			[]string{fmt.Sprintf("set %s dss spectrumShareRatio default", nodeID)},
			fmt.Sprintf("Changed dynamic spectrum sharing ratio to %d", ratio)
	case "deactivate_pdcch_power_boost":
		return []string{fmt.Sprintf("set %s pdcchPowerBoost 0", nodeID)},
			[]string{fmt.Sprintf("set %s pdcchPowerBoost default", nodeID)},
			"Deactivated PDCCH power boost"
	case "enhance_dsplit_threshold":
		threshold := intArg(args, "threshold", 80)
		return []string{fmt.Sprintf("set %s dsplitThreshold %d", nodeID, threshold)},
			[]string{fmt.Sprintf("set %s dsplitThreshold default", nodeID)},
			fmt.Sprintf("Raised downlink split threshold to %d", threshold)
	case "enhance_resource_allocation":
		return []string{fmt.Sprintf("set %s resourceAllocation profile high-capacity", nodeID)},
			[]string{fmt.Sprintf("set %s resourceAllocation profile default", nodeID)},
			"Switched to high-capacity resource allocation profile"
	case "increase_tilt_value":
		degrees := intArg(args, "degrees", 2)
		return []string{fmt.Sprintf("set %s antennaTilt relative +%d", nodeID, degrees)},
			[]string{fmt.Sprintf("set %s antennaTilt relative -%d", nodeID, degrees)},
			fmt.Sprintf("Increased antenna tilt by %d degrees", degrees)
	case "decrease_power":
		db := intArg(args, "db", 3)
		return []string{fmt.Sprintf("set %s txPower relative -%d", nodeID, db)},
			[]string{fmt.Sprintf("set %s txPower relative +%d", nodeID, db)},
			fmt.Sprintf("Decreased transmit power by %d dB", db)
	default:
		// Unknown tools still get a visible, reversible no-op so the
		// workflow records what the collaborator asked for.
		log.Printf("[Tools] Unknown tool %s requested for node %s", tool, nodeID)
		return nil, nil, fmt.Sprintf("Unknown tool %s, no configuration applied", tool)
	}
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// NoopCommander accepts every command without touching a network. Used
// when no OSS endpoint is configured and in tests.
type NoopCommander struct{}

func (NoopCommander) Apply(_ context.Context, nodeID string, commands []string) error {
	for _, cmd := range commands {
		log.Printf("[Tools] (dry-run) %s: %s", nodeID, cmd)
	}
	return nil
}
