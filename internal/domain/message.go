package domain

import "time"

// Message is immutable after creation apart from the read receipt.
type Message struct {
	ID       string  `bson:"_id" json:"id"`
	ThreadID string  `bson:"thread_id" json:"threadId"`
	SenderID string  `bson:"sender_id" json:"senderId"`
	Content  *string `bson:"content,omitempty" json:"content,omitempty"`

	FileURL  *string `bson:"file_url,omitempty" json:"fileUrl,omitempty"`
	FileName *string `bson:"file_name,omitempty" json:"fileName,omitempty"`
	MimeType *string `bson:"mime_type,omitempty" json:"mimeType,omitempty"`
	FileSize *int64  `bson:"file_size,omitempty" json:"fileSize,omitempty"`

	IsRead    bool       `bson:"is_read" json:"isRead"`
	ReadAt    *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
}

// NewMessage carries what a sender supplies; everything else is assigned
// by the server.
type NewMessage struct {
	ThreadID string  `json:"threadId"`
	Content  *string `json:"content,omitempty"`
	FileURL  *string `json:"fileUrl,omitempty"`
	FileName *string `json:"fileName,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	FileSize *int64  `json:"fileSize,omitempty"`
}

// Empty reports a message with neither text nor attachment.
func (n NewMessage) Empty() bool {
	return (n.Content == nil || *n.Content == "") && (n.FileURL == nil || *n.FileURL == "")
}
