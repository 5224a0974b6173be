package room

import "time"

// SystemSender is the sender name used for gateway-synthesized join/leave
// notices.
const SystemSender = "Admin"

// Control tags an Event as either a user-authored chat message or a notice
// synthesized by the gateway. The numeric values are part of the wire format.
type Control int

const (
	// ControlMessage marks an ordinary user chat message.
	ControlMessage Control = 0
	// ControlJoin marks a synthesized "<name> has joined" notice.
	ControlJoin Control = 1
	// ControlLeave marks a synthesized "<name> has left" notice.
	ControlLeave Control = 2
)

func (c Control) String() string {
	switch c {
	case ControlMessage:
		return "message"
	case ControlJoin:
		return "join"
	case ControlLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// eventTimeFormat renders timestamps the way browsers' toUTCString does, so
// history entries and live events display identically.
const eventTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Event is one unit of room activity.
//
// Control determines whether Sender/Body were user-authored (ControlMessage)
// or synthesized by the gateway (ControlJoin/ControlLeave, with
// Sender=SystemSender).
type Event struct {
	Sender  string  `json:"sender"`
	Body    string  `json:"body"`
	Date    string  `json:"date"`
	Control Control `json:"control"`
}

// Stamp formats t as an event timestamp in UTC.
func Stamp(t time.Time) string {
	return t.UTC().Format(eventTimeFormat)
}

// JoinNotice builds the synthesized event broadcast when a participant joins.
func JoinNotice(userName string, now time.Time) Event {
	return Event{
		Sender:  SystemSender,
		Body:    userName + " has joined",
		Date:    Stamp(now),
		Control: ControlJoin,
	}
}

// LeaveNotice builds the synthesized event broadcast when a participant leaves.
func LeaveNotice(userName string, now time.Time) Event {
	return Event{
		Sender:  SystemSender,
		Body:    userName + " has left",
		Date:    Stamp(now),
		Control: ControlLeave,
	}
}
