package router

// Event is one inbound chat event. The set of variants is closed: NewMessage,
// EditedMessage, Reaction and Deletion.
type Event interface {
	// ID is the transport's id for this event's own message.
	ID() string
	// From is the sender identifier used for the scope check.
	From() string
	event()
}

// NewMessage is a freshly sent text message. ReplyTo is set when it quotes an
// earlier message.
type NewMessage struct {
	MessageID string
	Sender    string
	ReplyTo   string
	Chat      string
	Text      string
}

// EditedMessage carries the new text of OriginalID.
type EditedMessage struct {
	MessageID  string
	Sender     string
	Chat       string
	OriginalID string
	Text       string
}

// Reaction is an emoji set on TargetID. An empty Emoji means the reaction was removed.
type Reaction struct {
	MessageID string
	Sender    string
	Chat      string
	TargetID  string
	Emoji     string
}

// Deletion reports that TargetID was deleted for everyone.
type Deletion struct {
	MessageID string
	Sender    string
	Chat      string
	TargetID  string
}

func (e NewMessage) ID() string    { return e.MessageID }
func (e EditedMessage) ID() string { return e.MessageID }
func (e Reaction) ID() string      { return e.MessageID }
func (e Deletion) ID() string      { return e.MessageID }

func (e NewMessage) From() string    { return e.Sender }
func (e EditedMessage) From() string { return e.Sender }
func (e Reaction) From() string      { return e.Sender }
func (e Deletion) From() string      { return e.Sender }

func (NewMessage) event()    {}
func (EditedMessage) event() {}
func (Reaction) event()      {}
func (Deletion) event()      {}

// Outcome is how the router classified an event.
type Outcome int

const (
	Unrecognized Outcome = iota
	Created
	Reply
	Edited
	StatusChanged
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Reply:
		return "reply"
	case Edited:
		return "edited"
	case StatusChanged:
		return "status_changed"
	case Deleted:
		return "deleted"
	}
	return "unrecognized"
}
