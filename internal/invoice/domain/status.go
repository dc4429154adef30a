package domain

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusViewed        Status = "viewed"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusVoid          Status = "void"
)

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := transitions[s]
	return s, ok
}

var transitions = map[Status][]Status{
	StatusDraft:         {StatusSent, StatusVoid},
	StatusSent:          {StatusViewed, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusVoid},
	StatusViewed:        {StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusVoid},
	StatusPartiallyPaid: {StatusPaid, StatusOverdue, StatusVoid},
	StatusOverdue:       {StatusPartiallyPaid, StatusPaid, StatusVoid},
	StatusPaid:          {},
	StatusVoid:          {},
}

// CanTransition reports whether the status machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Capabilities lists what the invoice accepts in a given status.
type Capabilities struct {
	EditLineItems    bool
	Send             bool
	RecordPayment    bool
	ApplyChangeOrder bool
	MarkOverdue      bool
	Void             bool
}

var capabilities = map[Status]Capabilities{
	StatusDraft:         {EditLineItems: true, Send: true, ApplyChangeOrder: true, Void: true},
	StatusSent:          {RecordPayment: true, ApplyChangeOrder: true, MarkOverdue: true, Void: true},
	StatusViewed:        {RecordPayment: true, ApplyChangeOrder: true, MarkOverdue: true, Void: true},
	StatusPartiallyPaid: {RecordPayment: true, ApplyChangeOrder: true, MarkOverdue: true, Void: true},
	StatusOverdue:       {RecordPayment: true, ApplyChangeOrder: true, Void: true},
	StatusPaid:          {},
	StatusVoid:          {},
}

func (s Status) Can() Capabilities {
	return capabilities[s]
}

// OverdueCandidates are the statuses the overdue sweep inspects.
func OverdueCandidates() []Status {
	out := make([]Status, 0, len(capabilities))
	for _, s := range []Status{StatusSent, StatusViewed, StatusPartiallyPaid} {
		if s.Can().MarkOverdue {
			out = append(out, s)
		}
	}
	return out
}

// TransitionTo moves the invoice along the status machine.
func (inv *Invoice) TransitionTo(to Status) error {
	if inv.Status == to {
		return nil
	}
	if !CanTransition(inv.Status, to) {
		return ErrTransitionNotAllowed
	}
	inv.Status = to
	return nil
}
