package domain

import "time"

type NotificationType string

const (
	NotifyWelcome                 NotificationType = "WELCOME"
	NotifyProfileCreated          NotificationType = "PROFILE_CREATED"
	NotifyPaymentSuccess          NotificationType = "PAYMENT_SUCCESS"
	NotifyPaymentFailed           NotificationType = "PAYMENT_FAILED"
	NotifySubscriptionExpiring    NotificationType = "SUBSCRIPTION_EXPIRING"
	NotifyApplicationSubmitted    NotificationType = "APPLICATION_SUBMITTED"
	NotifyApplicationStatusChange NotificationType = "APPLICATION_STATUS_CHANGED"
	NotifyDocumentUploaded        NotificationType = "DOCUMENT_UPLOADED"
	NotifyDocumentUpdated         NotificationType = "DOCUMENT_UPDATED"
	NotifyWishlistDeadline        NotificationType = "WISHLIST_DEADLINE"
	NotifyPostApproved            NotificationType = "POST_APPROVED"
	NotifyPostRejected            NotificationType = "POST_REJECTED"
	NotifyProfileApproved         NotificationType = "PROFILE_APPROVED"
	NotifyProfileRejected         NotificationType = "PROFILE_REJECTED"
	NotifyNewMessage              NotificationType = "NEW_MESSAGE"
)

// NotificationTypes lists every supported kind.
var NotificationTypes = []NotificationType{
	NotifyWelcome, NotifyProfileCreated, NotifyPaymentSuccess, NotifyPaymentFailed,
	NotifySubscriptionExpiring, NotifyApplicationSubmitted, NotifyApplicationStatusChange,
	NotifyDocumentUploaded, NotifyDocumentUpdated, NotifyWishlistDeadline,
	NotifyPostApproved, NotifyPostRejected, NotifyProfileApproved, NotifyProfileRejected,
	NotifyNewMessage,
}

func (t NotificationType) Valid() bool {
	for _, k := range NotificationTypes {
		if k == t {
			return true
		}
	}
	return false
}

// NotificationMessage is the queue envelope every notification-producing
// feature submits.
type NotificationMessage struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type" validate:"required"`
	UserID    string           `json:"userId" validate:"required"`
	UserEmail string           `json:"userEmail" validate:"omitempty,email"`
	Timestamp string           `json:"timestamp"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Notification is the persisted, user-facing row.
type Notification struct {
	ID        string           `bson:"_id" json:"id" gorm:"primaryKey;size:64"`
	UserID    string           `bson:"user_id" json:"userId" gorm:"index;size:64"`
	Type      NotificationType `bson:"type" json:"type" gorm:"size:64"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message" gorm:"type:text"`
	Link      string           `bson:"link,omitempty" json:"link,omitempty"`
	Read      bool             `bson:"read" json:"read"`
	CreatedAt time.Time        `bson:"created_at" json:"createdAt"`
}

func (Notification) TableName() string { return "notifications" }
