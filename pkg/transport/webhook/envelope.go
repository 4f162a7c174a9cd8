package webhook

import "github.com/harrisonrobin/tasklink/pkg/router"

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value struct {
		Metadata struct {
			DisplayPhoneNumber string `json:"display_phone_number"`
			PhoneNumberID      string `json:"phone_number_id"`
		} `json:"metadata"`
		Messages []message `json:"messages"`
	} `json:"value"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Context   *struct {
		From string `json:"from"`
		ID   string `json:"id"`
	} `json:"context,omitempty"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction,omitempty"`
}

func (e envelope) messages() []message {
	var out []message
	for _, en := range e.Entry {
		for _, ch := range en.Changes {
			out = append(out, ch.Value.Messages...)
		}
	}
	return out
}

// event converts a message into a router event. Only text and reaction
// messages are supported.
func (m message) event() (router.Event, bool) {
	switch m.Type {
	case "text":
		if m.Text == nil {
			return nil, false
		}
		ev := router.NewMessage{MessageID: m.ID, Sender: m.From, Chat: m.From, Text: m.Text.Body}
		if m.Context != nil {
			ev.ReplyTo = m.Context.ID
		}
		return ev, true
	case "reaction":
		if m.Reaction == nil {
			return nil, false
		}
		return router.Reaction{
			MessageID: m.ID,
			Sender:    m.From,
			Chat:      m.From,
			TargetID:  m.Reaction.MessageID,
			Emoji:     m.Reaction.Emoji,
		}, true
	}
	return nil, false
}
