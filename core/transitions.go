package core

import "fmt"

// Operation identifies one lifecycle operation of the auction engine.
type Operation string

const (
	OpCreate         Operation = "create"
	OpPlaceBid       Operation = "place_bid"
	OpFinalize       Operation = "finalize"
	OpWithdrawUnsold Operation = "withdraw_unsold"
	OpCancel         Operation = "cancel"
	OpUpdateSettings Operation = "update_settings"
)

type transition struct {
	from []Status
	to   Status
}

// transitions lists, per operation, the statuses it may start from and the
// status it leaves behind. OpCreate has no source state.
var transitions = map[Operation]transition{
	OpCreate:         {from: nil, to: StatusActive},
	OpPlaceBid:       {from: []Status{StatusActive}, to: StatusActive},
	OpUpdateSettings: {from: []Status{StatusActive}, to: StatusActive},
	OpFinalize:       {from: []Status{StatusActive}, to: StatusCompleted},
	OpWithdrawUnsold: {from: []Status{StatusActive}, to: StatusCancelled},
	OpCancel:         {from: []Status{StatusActive}, to: StatusCancelled},
}

// CheckTransition returns the target status of op when applied to a record in
// state from. A known operation started from a disallowed state is rejected with
// ErrAuctionNotActive; an unknown operation with ErrInvalidStateTransition.
func CheckTransition(op Operation, from Status) (Status, error) {
	t, ok := transitions[op]
	if !ok || t.from == nil {
		return 0, fmt.Errorf("%s from %s: %w", op, from, ErrInvalidStateTransition)
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return 0, fmt.Errorf("%s from %s: %w", op, from, ErrAuctionNotActive)
}
