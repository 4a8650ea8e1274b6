package identity

import "encoding/json"

// User is the profile decoded from a verified ID token.
type User struct {
	Subject string
	Claims  map[string]interface{}
}

// MarshalJSON emits the raw claim set, matching what the provider issued.
func (u *User) MarshalJSON() ([]byte, error) {
	if u.Claims == nil {
		return json.Marshal(map[string]interface{}{"sub": u.Subject})
	}
	return json.Marshal(u.Claims)
}
