package domain

import "time"

// MessageRecord is the normalized form of one fetched message.
// Records are immutable once parsed.
type MessageRecord struct {
	ID              string    `json:"id" bson:"_id"`
	Account         string    `json:"account" bson:"account"`
	ServerID        string    `json:"server_id" bson:"server_id"`
	MessageID       string    `json:"message_id,omitempty" bson:"message_id,omitempty"`
	From            string    `json:"from" bson:"from"`
	To              string    `json:"to,omitempty" bson:"to,omitempty"`
	Cc              string    `json:"cc,omitempty" bson:"cc,omitempty"`
	Subject         string    `json:"subject" bson:"subject"`
	SentAt          time.Time `json:"sent_at" bson:"sent_at"`
	BodyText        string    `json:"body_text,omitempty" bson:"body_text,omitempty"`
	BodyHTML        string    `json:"body_html,omitempty" bson:"body_html,omitempty"`
	AttachmentCount int       `json:"attachment_count" bson:"attachment_count"`
	ProviderDomain  string    `json:"provider_domain" bson:"provider_domain"`
	SyncedAt        time.Time `json:"synced_at" bson:"synced_at"`
}

// AccountStats summarizes what is stored for one account.
type AccountStats struct {
	Account      string     `json:"account" bson:"_id"`
	MessageCount int64      `json:"messageCount" bson:"message_count"`
	Attachments  int64      `json:"attachments" bson:"attachments"`
	OldestSentAt *time.Time `json:"oldestSentAt,omitempty" bson:"oldest_sent_at"`
	NewestSentAt *time.Time `json:"newestSentAt,omitempty" bson:"newest_sent_at"`
}

// RawMessage is one message as returned by the server, before parsing.
type RawMessage struct {
	ServerID     string
	InternalDate time.Time
	Body         []byte
}

// BatchState tracks one batch while it moves through fetch, parse, and write.
type BatchState struct {
	Index       int
	IDs         []string
	Records     []*MessageRecord
	Fetched     int
	ParseFailed int
	Filtered    int
}
