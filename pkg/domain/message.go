package domain

// MessageID is the transport's identifier of a message. Within one respondent's chat
// it grows monotonically, so it doubles as the freshness watermark of a dialog.
type MessageID int64

// Message is an inbound reply from a respondent.
type Message struct {
	ID   MessageID `json:"id"`
	Text string    `json:"text"`
}

// Answer is the accepted reply to a question.
type Answer struct {
	Text string `json:"text"`
}

// Button is a single option rendered by a transport.
// Data is what the transport sends back when the button is pressed; empty means Text.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
}

// Payload is a transport-neutral outbound message.
type Payload struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
	// Inline marks buttons attached to the message rather than a reply keyboard.
	Inline bool `json:"inline,omitempty"`
}

// TextPayload wraps plain text.
func TextPayload(text string) Payload {
	return Payload{Text: text}
}

// LayoutButtons arranges buttons into rows of at most columns entries.
// The last row holds the remainder.
func LayoutButtons(buttons []Button, columns int) [][]Button {
	if len(buttons) == 0 {
		return nil
	}
	if columns <= 0 {
		columns = 1
	}
	rows := make([][]Button, 0, (len(buttons)+columns-1)/columns)
	for start := 0; start < len(buttons); start += columns {
		end := min(start+columns, len(buttons))
		rows = append(rows, buttons[start:end])
	}
	return rows
}
