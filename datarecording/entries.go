package datarecording

// Table names used for simulation output.
const (
	RunTable        = "run_info"
	ChannelTable    = "channel_values"
	TransitionTable = "transitions"
)

// RunInfo is one property of a run, such as its seed or its start time.
type RunInfo struct {
	RunID    string
	Property string
	Value    string
}

// ChannelValue is the value of one result channel on one day.
type ChannelValue struct {
	RunID   string
	Channel string
	Day     int
	Value   int
}

// Transition is one agent state change.
type Transition struct {
	RunID     string
	Day       int
	AgentID   int
	FromState string
	ToState   string
}
