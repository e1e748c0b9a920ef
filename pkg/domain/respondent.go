package domain

import "fmt"

// Messenger identifies the chat transport a respondent talks through.
type Messenger string

const (
	MessengerTelegram Messenger = "telegram"
	MessengerViber    Messenger = "viber"
	MessengerWhatsApp Messenger = "whatsapp"
	MessengerWeb      Messenger = "web"
	MessengerConsole  Messenger = "console"
)

// Valid reports whether m is one of the known messengers.
func (m Messenger) Valid() bool {
	switch m {
	case MessengerTelegram, MessengerViber, MessengerWhatsApp, MessengerWeb, MessengerConsole:
		return true
	}
	return false
}

// Respondent is the end user engaged in a conversation.
type Respondent struct {
	ID        string         `json:"id"`
	Messenger Messenger      `json:"messenger"`
	Username  string         `json:"username,omitempty"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// Key returns the registry identity of the respondent.
func (r Respondent) Key() string {
	return string(r.Messenger) + ":" + r.ID
}

// Validate checks the identity fields.
func (r Respondent) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRespondent)
	}
	if !r.Messenger.Valid() {
		return fmt.Errorf("%w: unknown messenger %q", ErrInvalidRespondent, r.Messenger)
	}
	return nil
}
