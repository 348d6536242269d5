// Package account holds the user record returned by the auth API and cached
// alongside the session.
package account

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Role is the server-assigned role of a user. The core carries it but never
// enforces it; permission checks belong to the consuming API.
type Role string

const (
	// RoleAdmin is an administrator of the business account.
	RoleAdmin Role = "admin"
	// RoleManager is a crew or office manager.
	RoleManager Role = "manager"
	// RoleEmployee is a regular employee.
	RoleEmployee Role = "employee"
)

// UserID is the server identifier of a user. The API has returned both
// numeric and string identifiers over time, so both decode to the same value.
type UserID string

// UnmarshalJSON accepts a JSON number or string.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode user id: %w", err)
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode user id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("decode user id: not an integer: %s", n)
	}
	*id = UserID(n.String())
	return nil
}

// String returns the identifier as a string.
func (id UserID) String() string {
	return string(id)
}

// User is the authenticated user record.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// IsZero reports whether the record is empty.
func (u User) IsZero() bool {
	return u.ID == ""
}
