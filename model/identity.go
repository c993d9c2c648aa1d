package model

import "strconv"

// Identity is an authenticated principal as exposed by the identity gate.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// IsZero reports whether the identity carries no id.
func (i Identity) IsZero() bool {
	return i.ID == 0
}

// Subject returns the id formatted for token subjects.
func (i Identity) Subject() string {
	return strconv.FormatInt(i.ID, 10)
}
