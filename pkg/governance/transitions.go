package governance

import (
	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// Action is a lifecycle action applied to a skill through the state
// machine. Block is only ever triggered by the service when a scan sets
// the hard-blocked flag; it is not exposed as a review action.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionBlock   Action = "block"
	ActionInstall Action = "install"
)

// transitions is the full legal transition table. Rejected and blocked
// are deliberately not terminal: both permit re-approval after new
// evidence, which mirrors how real review queues work. Install is legal
// only from approved and leaves the status unchanged.
var transitions = map[Action]map[governance.Status]governance.Status{
	ActionApprove: {
		governance.StatusPending:  governance.StatusApproved,
		governance.StatusRejected: governance.StatusApproved,
		governance.StatusBlocked:  governance.StatusApproved,
	},
	ActionReject: {
		governance.StatusPending:  governance.StatusRejected,
		governance.StatusApproved: governance.StatusRejected,
	},
	ActionBlock: {
		governance.StatusPending: governance.StatusBlocked,
	},
	ActionInstall: {
		governance.StatusApproved: governance.StatusApproved,
	},
}

// NextStatus validates action against the skill's current status and
// returns the resulting status. Illegal transitions never silently
// no-op; they return an InvalidTransition error carrying the actual
// current status.
func NextStatus(current governance.Status, action Action) (governance.Status, error) {
	table, ok := transitions[action]
	if !ok {
		return "", NewInvalidTransition(current, "unknown action %q", action)
	}

	next, ok := table[current]
	if !ok {
		return "", NewInvalidTransition(current, "cannot %s a %s skill", action, current)
	}

	return next, nil
}

// CanTransition reports whether action is legal from the current status,
// without constructing an error.
func CanTransition(current governance.Status, action Action) bool {
	_, ok := transitions[action][current]
	return ok
}
