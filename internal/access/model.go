package access

import "time"

// Role decides whether a dashboard user is restricted to associated phones.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleAdmin
}

// Association maps a dashboard username to the phone numbers it may see.
// PhoneNumbers keeps insertion order and never holds duplicates.
type Association struct {
	Username     string    `json:"username" bson:"_id" dynamodbav:"username"`
	PhoneNumbers []string  `json:"phoneNumbers" bson:"phoneNumbers" dynamodbav:"phoneNumbers"`
	Role         Role      `json:"role" bson:"role" dynamodbav:"role"`
	Version      int64     `json:"version" bson:"version" dynamodbav:"version"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt" dynamodbav:"updatedAt"`
}

// Has reports whether phone is already associated.
func (a Association) Has(phone string) bool {
	for _, p := range a.PhoneNumbers {
		if p == phone {
			return true
		}
	}
	return false
}

func (a Association) clone() Association {
	out := a
	out.PhoneNumbers = append([]string{}, a.PhoneNumbers...)
	return out
}

func withoutPhone(phones []string, phone string) []string {
	out := make([]string, 0, len(phones))
	for _, p := range phones {
		if p != phone {
			out = append(out, p)
		}
	}
	return out
}
