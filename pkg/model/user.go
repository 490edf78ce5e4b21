package model

// UserMap is an immutable mapping between display names and user identities.
// It is built once at startup and passed by value into every component.
type UserMap struct {
	byID   map[UserID]string
	byName map[string]UserID
}

// NewUserMap builds a UserMap from display name to user identity pairs
func NewUserMap(nameToID map[string]UserID) UserMap {
	m := UserMap{
		byID:   make(map[UserID]string, len(nameToID)),
		byName: make(map[string]UserID, len(nameToID)),
	}
	for name, id := range nameToID {
		m.byName[name] = id
		m.byID[id] = name
	}
	return m
}

// Name returns the display name of the user
func (m UserMap) Name(id UserID) (string, bool) {
	name, ok := m.byID[id]
	return name, ok
}

// NameOr returns the display name of the user, or fallback if unknown
func (m UserMap) NameOr(id UserID, fallback string) string {
	if name, ok := m.byID[id]; ok {
		return name
	}
	return fallback
}

// ID returns the user identity for the display name
func (m UserMap) ID(name string) (UserID, bool) {
	id, ok := m.byName[name]
	return id, ok
}

func (m UserMap) Len() int {
	return len(m.byID)
}
