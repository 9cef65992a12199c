// Package presence tracks remote collaborators on a board: their cursors
// and the single optional presenter whose viewport followers adopt.
package presence

// RemoteUser is an ephemeral record of a connected collaborator. Removed
// when the transport reports a disconnect.
type RemoteUser struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	CursorX     float64 `json:"cursorX"`
	CursorY     float64 `json:"cursorY"`
	AvatarURL   string  `json:"avatarUrl,omitempty"`
}

// Roster holds the remote users of one board session in join order.
// Duplicate or out-of-order presence updates apply idempotently.
type Roster struct {
	users map[string]RemoteUser
	order []string
}

// NewRoster constructs an empty roster.
func NewRoster() *Roster {
	return &Roster{users: make(map[string]RemoteUser)}
}

// Upsert adds or refreshes a user.
func (r *Roster) Upsert(user RemoteUser) {
	if user.UserID == "" {
		return
	}
	if _, ok := r.users[user.UserID]; !ok {
		r.order = append(r.order, user.UserID)
	}
	r.users[user.UserID] = user
}

// MoveCursor updates a user's cursor position. Unknown users are ignored;
// a join message establishes the record first.
func (r *Roster) MoveCursor(userID string, x, y float64) {
	user, ok := r.users[userID]
	if !ok {
		return
	}
	user.CursorX = x
	user.CursorY = y
	r.users[userID] = user
}

// Remove garbage-collects a disconnected user.
func (r *Roster) Remove(userID string) {
	if _, ok := r.users[userID]; !ok {
		return
	}
	delete(r.users, userID)
	for i, existing := range r.order {
		if existing == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// User returns one user by id.
func (r *Roster) User(userID string) (RemoteUser, bool) {
	user, ok := r.users[userID]
	return user, ok
}

// Users returns all users in join order.
func (r *Roster) Users() []RemoteUser {
	out := make([]RemoteUser, 0, len(r.order))
	for _, userID := range r.order {
		if user, ok := r.users[userID]; ok {
			out = append(out, user)
		}
	}
	return out
}

// Len reports the number of remote users.
func (r *Roster) Len() int {
	return len(r.users)
}
