package domain

import "strings"

type UserType string

const (
	UserApplicant   UserType = "applicant"
	UserInstitution UserType = "institution"
	UserUnknown     UserType = "unknown"
)

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// User is the projection of a profile that messaging caches. The profile
// itself is owned by the user service.
type User struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Image  *string    `json:"image"`
	Status UserStatus `json:"status"`
	Type   UserType   `json:"type"`
}

// TypeFromRole maps profile-service roles onto the messaging user type.
func TypeFromRole(role string) UserType {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "applicant", "student":
		return UserApplicant
	case "institution", "university":
		return UserInstitution
	default:
		return UserUnknown
	}
}

// externalAvatarHosts are social-login avatar providers.
var externalAvatarHosts = []string{
	"googleusercontent.com",
	"graph.facebook.com",
	"platform-lookaside.fbsbx.com",
	"avatars.githubusercontent.com",
	"media.licdn.com",
	"pbs.twimg.com",
}

// IsExternalAvatar reports whether url points at a social-login avatar.
func IsExternalAvatar(url string) bool {
	u := strings.ToLower(url)
	for _, h := range externalAvatarHosts {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

// DisplayImage applies the image policy: institutions show their
// registered logo or nothing, never an avatar picked up from OAuth.
func DisplayImage(t UserType, image *string) *string {
	if image == nil || *image == "" {
		return nil
	}
	if t == UserInstitution && IsExternalAvatar(*image) {
		return nil
	}
	return image
}
