package domain

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyKeepLocal    Strategy = "keep_local"
	StrategyAcceptServer Strategy = "accept_server"
	StrategyMerge        Strategy = "merge"
	// StrategyAuto applies the deterministic policy.
	StrategyAuto Strategy = "auto"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyKeepLocal, StrategyAcceptServer, StrategyMerge, StrategyAuto:
		return true
	}
	return false
}

// Suggestion is the outcome of the deterministic policy for one conflict.
type Suggestion struct {
	Strategy Strategy `json:"strategy,omitempty"`
	// Resolvable is false when an operator has to decide.
	Resolvable bool   `json:"resolvable"`
	Reason     string `json:"reason"`
}

// Report summarizes one sync cycle.
type Report struct {
	Pulled    int  `json:"pulled"`
	Conflicts int  `json:"conflicts"`
	Pushed    int  `json:"pushed"`
	Rejected  int  `json:"rejected"`
	Blocked   int  `json:"blocked"`
	Remaining int  `json:"remaining"`
	Offline   bool `json:"offline"`
}
