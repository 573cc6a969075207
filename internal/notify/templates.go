package notify

import (
	"fmt"
	"strings"

	"github.com/edumatch/messaging/internal/domain"
)

// Content is the user-facing text of a notification.
type Content struct {
	Title   string
	Message string
	Link    string
}

func meta(n domain.NotificationMessage, key, fallback string) string {
	if v, ok := n.Metadata[key]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return fallback
}

// Render builds the title, body and deep link for n. Unknown types get a
// generic message rather than an error so a new producer cannot wedge the
// queue.
func Render(n domain.NotificationMessage) Content {
	switch n.Type {
	case domain.NotifyWelcome:
		return Content{
			Title:   "Welcome to EduMatch",
			Message: fmt.Sprintf("Hi %s, your account is ready. Complete your profile to get matched.", meta(n, "userName", "there")),
			Link:    "/profile",
		}
	case domain.NotifyProfileCreated:
		return Content{
			Title:   "Profile created",
			Message: fmt.Sprintf("Your %s profile has been created.", meta(n, "profileType", "EduMatch")),
			Link:    "/profile",
		}
	case domain.NotifyPaymentSuccess:
		return Content{
			Title: "Payment received",
			Message: fmt.Sprintf("We received your payment of %s %s for the %s plan.",
				meta(n, "amount", ""), strings.ToUpper(meta(n, "currency", "usd")), meta(n, "plan", "selected")),
			Link: "/pricing",
		}
	case domain.NotifyPaymentFailed:
		return Content{
			Title:   "Payment failed",
			Message: fmt.Sprintf("Your payment could not be processed: %s. Please update your payment method.", meta(n, "reason", "unknown error")),
			Link:    "/pricing",
		}
	case domain.NotifySubscriptionExpiring:
		return Content{
			Title:   "Subscription expiring",
			Message: fmt.Sprintf("Your %s subscription expires on %s.", meta(n, "plan", ""), meta(n, "expiresAt", "soon")),
			Link:    "/pricing",
		}
	case domain.NotifyApplicationSubmitted:
		return Content{
			Title:   "Application submitted",
			Message: fmt.Sprintf("%s applied to %s.", meta(n, "applicantName", "An applicant"), meta(n, "postTitle", "your post")),
			Link:    "/applications/" + meta(n, "applicationId", ""),
		}
	case domain.NotifyApplicationStatusChange:
		return Content{
			Title:   "Application status updated",
			Message: fmt.Sprintf("Your application to %s is now %s.", meta(n, "postTitle", "a post"), strings.ToLower(meta(n, "status", "updated"))),
			Link:    "/applications/" + meta(n, "applicationId", ""),
		}
	case domain.NotifyDocumentUploaded:
		return Content{
			Title:   "Document uploaded",
			Message: fmt.Sprintf("%s was uploaded.", meta(n, "documentName", "A document")),
			Link:    "/profile/documents",
		}
	case domain.NotifyDocumentUpdated:
		return Content{
			Title:   "Document updated",
			Message: fmt.Sprintf("%s was updated.", meta(n, "documentName", "A document")),
			Link:    "/profile/documents",
		}
	case domain.NotifyWishlistDeadline:
		return Content{
			Title:   "Deadline approaching",
			Message: fmt.Sprintf("%s in your wishlist closes on %s.", meta(n, "postTitle", "An opportunity"), meta(n, "deadline", "soon")),
			Link:    "/wishlist",
		}
	case domain.NotifyPostApproved:
		return Content{
			Title:   "Post approved",
			Message: fmt.Sprintf("Your post %s is now live.", meta(n, "postTitle", "")),
			Link:    "/posts/" + meta(n, "postId", ""),
		}
	case domain.NotifyPostRejected:
		return Content{
			Title:   "Post rejected",
			Message: fmt.Sprintf("Your post %s was rejected: %s.", meta(n, "postTitle", ""), meta(n, "reason", "no reason given")),
			Link:    "/posts/" + meta(n, "postId", ""),
		}
	case domain.NotifyProfileApproved:
		return Content{
			Title:   "Profile approved",
			Message: "Your profile has been approved.",
			Link:    "/profile",
		}
	case domain.NotifyProfileRejected:
		return Content{
			Title:   "Profile needs changes",
			Message: fmt.Sprintf("Your profile was not approved: %s.", meta(n, "reason", "no reason given")),
			Link:    "/profile",
		}
	case domain.NotifyNewMessage:
		return Content{
			Title:   "New message",
			Message: fmt.Sprintf("%s sent you a message.", meta(n, "senderName", "Someone")),
			Link:    "/messages?thread=" + meta(n, "threadId", ""),
		}
	default:
		return Content{Title: "Notification", Message: "You have a new notification."}
	}
}

// Row converts a queue envelope into the persisted notification.
func Row(n domain.NotificationMessage) *domain.Notification {
	c := Render(n)
	return &domain.Notification{
		ID:      n.ID,
		UserID:  n.UserID,
		Type:    n.Type,
		Title:   c.Title,
		Message: c.Message,
		Link:    c.Link,
	}
}
