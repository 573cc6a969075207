package domain

import (
	"sort"
	"time"
)

// Thread is a persistent 1:1 conversation between two users. UnreadCounts
// is keyed by viewer id; Unread is the projection for the caller and is
// filled in when a thread is returned to a specific viewer.
type Thread struct {
	ID      string `bson:"_id" json:"id"`
	PairKey string `bson:"pair_key" json:"-"`
	User1ID string `bson:"user1_id" json:"user1Id"`
	User2ID string `bson:"user2_id" json:"user2Id"`

	LastMessage         *string    `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	LastMessageSenderID string     `bson:"last_message_sender_id,omitempty" json:"lastMessageSenderId,omitempty"`
	LastMessageSender   string     `bson:"last_message_sender_name,omitempty" json:"lastMessageSenderName,omitempty"`
	LastMessageImage    *string    `bson:"last_message_sender_image,omitempty" json:"lastMessageSenderImage,omitempty"`
	LastMessageFileURL  *string    `bson:"last_message_file_url,omitempty" json:"lastMessageFileUrl,omitempty"`
	LastMessageMimeType *string    `bson:"last_message_mime_type,omitempty" json:"lastMessageMimeType,omitempty"`
	LastMessageAt       *time.Time `bson:"last_message_at,omitempty" json:"lastMessageAt,omitempty"`

	UnreadCounts map[string]int `bson:"unread_counts" json:"-"`
	Unread       int            `bson:"-" json:"unreadCount"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// PairKey returns the order-independent key for a pair of participants.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Has reports whether userID participates in the thread.
func (t *Thread) Has(userID string) bool {
	return t.User1ID == userID || t.User2ID == userID
}

// Other returns the participant that is not viewerID.
func (t *Thread) Other(viewerID string) string {
	if t.User1ID == viewerID {
		return t.User2ID
	}
	return t.User1ID
}

// ForViewer returns a copy with Unread set to viewerID's count.
func (t Thread) ForViewer(viewerID string) Thread {
	t.Unread = t.UnreadCounts[viewerID]
	return t
}

// SortKey is lastMessageAt, or updatedAt when no message was sent yet.
func (t *Thread) SortKey() time.Time {
	if t.LastMessageAt != nil && !t.LastMessageAt.IsZero() {
		return *t.LastMessageAt
	}
	return t.UpdatedAt
}

// SortThreads orders threads most recent first. The sort is stable so
// equal keys keep their incoming order.
func SortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].SortKey().After(threads[j].SortKey())
	})
}
