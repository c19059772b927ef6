package model

// WebhookPayload is the batch the messaging gateway posts to the webhook.
type WebhookPayload struct {
	Groups   []GroupNotification `json:"groups,omitempty"`
	Messages []InboundMessage    `json:"messages,omitempty"`
}

// GroupNotification reports a group membership change.
type GroupNotification struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
}

// Participant is a member of a group chat.
type Participant struct {
	ID   string `json:"id"`
	Rank string `json:"rank,omitempty"`
}

// InboundMessage is one message from the gateway. Exactly one content
// kind is expected to be present.
type InboundMessage struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chat_id"`
	FromMe      bool         `json:"from_me"`
	FromName    string       `json:"from_name,omitempty"`
	ChatName    string       `json:"chat_name,omitempty"`
	Type        string       `json:"type,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
	Text        *TextBody    `json:"text,omitempty"`
	Image       *MediaBody   `json:"image,omitempty"`
	Gif         *MediaBody   `json:"gif,omitempty"`
	LinkPreview *LinkPreview `json:"link_preview,omitempty"`
}

// TextBody is a plain text message body.
type TextBody struct {
	Body string `json:"body"`
}

// MediaBody carries a media preview (data URL or link) and caption.
type MediaBody struct {
	Preview string `json:"preview,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// LinkPreview is a shared link with its unfurled metadata.
type LinkPreview struct {
	Body        string `json:"body,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Preview     string `json:"preview,omitempty"`
}
