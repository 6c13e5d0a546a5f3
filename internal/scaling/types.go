package scaling

// Action represents a scaling decision action.
type Action string

const (
	// ActionScaleUp indicates workers should be added.
	ActionScaleUp Action = "scale_up"

	// ActionScaleDown indicates workers should be removed.
	ActionScaleDown Action = "scale_down"

	// ActionNone indicates no scaling change is needed.
	ActionNone Action = "none"

	// ActionRecommendation marks a history record for a high-confidence
	// recommendation that was observed but not applied. It never appears
	// on a Recommendation.
	ActionRecommendation Action = "recommendation"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Trigger records who initiated a scaling action.
type Trigger string

const (
	// TriggerManual marks operator-initiated actions.
	TriggerManual Trigger = "manual"

	// TriggerAuto marks actions applied by the monitor loop.
	TriggerAuto Trigger = "auto"
)

// Recommendation is the result of evaluating the scaling ratios against the
// reconciled team state.
type Recommendation struct {
	// Action is the recommended scaling action.
	Action Action `json:"action"`

	// Delta is the number of workers to add (positive) or remove (negative).
	// Zero when Action is ActionNone.
	Delta int `json:"delta"`

	// Reason is a human-readable explanation of the recommendation.
	Reason string `json:"reason"`
}

// ResourceSnapshot captures the host and team state a scaling record was
// written against.
type ResourceSnapshot struct {
	CPULoad1m     float64 `json:"cpu_load_1m"`
	FreeMemMB     int     `json:"free_mem_mb"`
	ActiveWorkers int     `json:"active_workers"`
	PendingTasks  int     `json:"pending_tasks"`
	IdleWorkers   int     `json:"idle_workers"`
}
