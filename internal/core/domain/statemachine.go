package domain

import "fmt"

// Action is an operation requested on an existing payment.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// Transition is a validated plan for moving a payment between statuses.
// Nothing has been applied yet when Plan returns it.
type Transition struct {
	Action     Action
	From       PaymentStatus
	To         PaymentStatus
	MovesFunds bool // debit sender, credit recipient by the payment amount
	Delete     bool
	Note       string
	Event      string
}

// Plan validates action against the current state of p.
//
// Created is the only non-terminal status. Confirm and Cancel move it to Paid
// and Canceled. Update is limited to the same two targets and behaves exactly
// like the explicit operation, funds included. Delete is allowed only while
// the payment is still Created.
func Plan(p Payment, action Action, target PaymentStatus) (Transition, error) {
	t := Transition{Action: action, From: p.Status}

	switch action {
	case ActionConfirm:
		target = StatusPaid
	case ActionCancel:
		target = StatusCanceled
	case ActionUpdate:
		if _, err := ParseStatus(string(target)); err != nil {
			return Transition{}, err
		}
	case ActionDelete:
		if p.Status != StatusCreated {
			return Transition{}, NewError(KindInvalidState, "cannot delete payment in %s status", p.Status)
		}
		t.To = p.Status
		t.Delete = true
		t.Note = "Payment deleted"
		t.Event = "payment.deleted"
		return t, nil
	default:
		return Transition{}, NewError(KindInvalidInput, "unknown action %q", action)
	}

	if p.Status.Terminal() {
		return Transition{}, NewError(KindAlreadyFinalized, "payment already finalized as %s", p.Status)
	}
	if target == StatusCreated {
		return Transition{}, NewError(KindInvalidState, "payment cannot move back to created")
	}

	t.To = target
	t.MovesFunds = target == StatusPaid
	t.Event = "payment." + string(target)

	switch {
	case action == ActionUpdate:
		t.Note = fmt.Sprintf("Payment status updated to %s", target)
	case target == StatusPaid:
		t.Note = "Payment confirmed"
	default:
		t.Note = "Payment canceled"
	}
	return t, nil
}
