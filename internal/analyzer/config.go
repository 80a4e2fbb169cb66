package analyzer

import "time"

// Config holds the analyzer's detection thresholds. These are policy, not
// structure: the detectors' trigger shapes are fixed but every numeric knob
// lives here so deployments can tune sensitivity.
type Config struct {
	// StuckTimeout is how long an open phase (or total log silence) may
	// last before phase_stuck/silence fire.
	// Default: 10 minutes
	StuckTimeout time.Duration

	// AgentSilenceTimeout is how long a spawned agent may go unreferenced
	// before agent_silence fires.
	// Default: 5 minutes
	AgentSilenceTimeout time.Duration

	// AbandonedAgentTimeout is the longer window after which a silent
	// agent is considered abandoned rather than merely quiet.
	// Default: 15 minutes
	AbandonedAgentTimeout time.Duration

	// LoopRepeatThreshold is how many identical (command, phase, event)
	// repeats without an intervening milestone count as a loop.
	// Default: 3
	LoopRepeatThreshold int

	// VelocityWindow is how many recent milestones the declining_velocity
	// detector examines.
	// Default: 4
	VelocityWindow int

	// WarningConfidence is the cutoff above which any issue makes the
	// verdict at least "warning".
	// Default: 0.5
	WarningConfidence float64

	// CriticalConfidence is the cutoff above which any issue makes the
	// verdict "critical".
	// Default: 0.8
	CriticalConfidence float64

	// ExpectedMilestones maps command name to the milestone count a
	// healthy run of that command produces.
	ExpectedMilestones map[string]int

	// RequiredOutputFields maps command name to the data fields its
	// COMPLETE event must carry.
	RequiredOutputFields map[string][]string
}

// DefaultConfig returns conservative detection thresholds. The timeouts err
// long to avoid flagging normal thinking pauses as stuckness.
func DefaultConfig() Config {
	return Config{
		StuckTimeout:          10 * time.Minute,
		AgentSilenceTimeout:   5 * time.Minute,
		AbandonedAgentTimeout: 15 * time.Minute,
		LoopRepeatThreshold:   3,
		VelocityWindow:        4,
		WarningConfidence:     0.5,
		CriticalConfidence:    0.8,
		ExpectedMilestones: map[string]int{
			"ideate": 2,
			"plan":   3,
			"build":  5,
			"ship":   2,
		},
		RequiredOutputFields: map[string][]string{
			"plan":  {"plan_path"},
			"build": {"tests_passed", "files_changed"},
			"ship":  {"version"},
		},
	}
}
