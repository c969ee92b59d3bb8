package store

import (
	"fmt"
	"strconv"
	"strings"
)

// ThreadKind distinguishes the two conversation classes
type ThreadKind int

const (
	// ThreadRegular is a two-way conversation with a server-assigned id
	ThreadRegular ThreadKind = iota
	// ThreadAdmin is a read-only support thread keyed by the admin's user
	// id; the server has no thread id for it
	ThreadAdmin
)

// ThreadKey identifies a conversation as a tagged variant instead of a
// string-prefix convention, so regular ids and admin ids can never collide.
type ThreadKey struct {
	Kind ThreadKind
	ID   int64
}

// RegularKey builds the key of a regular conversation
func RegularKey(conversationID int64) ThreadKey {
	return ThreadKey{Kind: ThreadRegular, ID: conversationID}
}

// AdminKey builds the key of an admin conversation
func AdminKey(adminID int64) ThreadKey {
	return ThreadKey{Kind: ThreadAdmin, ID: adminID}
}

// IsAdmin reports whether the key names an admin conversation
func (k ThreadKey) IsAdmin() bool {
	return k.Kind == ThreadAdmin
}

// String serializes the key. Admin keys keep the legacy "admin_<id>" form
// so pin/mute/archive lists persisted by older clients stay readable.
func (k ThreadKey) String() string {
	if k.Kind == ThreadAdmin {
		return fmt.Sprintf("admin_%d", k.ID)
	}
	return strconv.FormatInt(k.ID, 10)
}

// ParseThreadKey parses a serialized key. Unparseable input returns ok=false
// rather than an error; a stale entry in a persisted list is not worth
// failing a load over.
func ParseThreadKey(s string) (ThreadKey, bool) {
	if rest, found := strings.CutPrefix(s, "admin_"); found {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return ThreadKey{}, false
		}
		return AdminKey(id), true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ThreadKey{}, false
	}
	return RegularKey(id), true
}
