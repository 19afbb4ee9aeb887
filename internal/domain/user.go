package domain

// Identity is the decoded bearer credential. It is trusted as-is.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// User is the display metadata the store joins onto messages. Users are
// owned by the auth service.
type User struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	ProfileImage *string `json:"profile_image,omitempty"`
}
