// ABOUTME: Conversation lifecycle states for the optimistic send flow.
// ABOUTME: Empty -> Pending(optimistic) -> Settled | RolledBack, explicit so rollback is checkable.

package conversation

// State describes where the conversation is in the optimistic update cycle.
type State int

const (
	// StateEmpty is a conversation with no settled exchanges yet.
	StateEmpty State = iota

	// StatePending means an optimistic entry has been appended and the
	// confirming call is still in flight.
	StatePending

	// StateSettled means the entries are the server's authoritative history.
	StateSettled

	// StateRolledBack means the last send failed and the entries were
	// restored to their exact pre-optimistic value. The conversation
	// remains usable.
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "empty"
	}
}
