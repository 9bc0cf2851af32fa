package nylas

// Participant is a name/address pair as Nylas models it.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Account is the subset of GET /account we use.
type Account struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EmailAddress string `json:"email_address"`
	Provider     string `json:"provider"`
}

// Thread is the subset of a thread object needed to build a reply.
type Thread struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Participants []Participant `json:"participants"`
	CC           []Participant `json:"cc,omitempty"`
	BCC          []Participant `json:"bcc,omitempty"`
	MessageIDs   []string      `json:"message_ids"`
}

// LastMessageID is the message a reply should thread under.
func (t *Thread) LastMessageID() string {
	if len(t.MessageIDs) == 0 {
		return ""
	}
	return t.MessageIDs[len(t.MessageIDs)-1]
}

// Draft is the body of POST /send.
type Draft struct {
	Subject          string        `json:"subject"`
	To               []Participant `json:"to"`
	CC               []Participant `json:"cc,omitempty"`
	BCC              []Participant `json:"bcc,omitempty"`
	From             []Participant `json:"from,omitempty"`
	Body             string        `json:"body"`
	ReplyToMessageID string        `json:"reply_to_message_id,omitempty"`
}

// Label is the subset of a label object returned by POST /labels.
type Label struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name,omitempty"`
}
