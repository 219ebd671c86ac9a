// Package session implements the distributed conversational session store
// shared by every bot replica.
//
// A session is addressed by a Key (bot, chat, user, thread) and consists of
// two independently expiring parts: an optional state label and a free-form
// data bag. Both parts are stored under their own backend key and every write
// refreshes the TTL of the key it touches.
package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Key parts.
const (
	PartState = "state"
	PartData  = "data"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "fsm"

// Key identifies one conversational session. ThreadID is zero for chats
// without forum topics.
type Key struct {
	BotID    int64
	ChatID   int64
	UserID   int64
	ThreadID int64
}

// String renders the backend key for one part of the session:
//
//	<prefix>:<bot>:<chat>:<user>:<thread>:<part>
//
// All components are integers separated by ':', so distinct tuples never
// collide.
func (k Key) String(prefix, part string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	var b strings.Builder
	b.Grow(len(prefix) + len(part) + 5*8)
	b.WriteString(prefix)
	for _, v := range [...]int64{k.BotID, k.ChatID, k.UserID, k.ThreadID} {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte(':')
	b.WriteString(part)
	return b.String()
}

// ParseKey is the inverse of Key.String for a given prefix. It returns the
// decoded key and the part name.
func ParseKey(prefix, s string) (Key, string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	rest, ok := strings.CutPrefix(s, prefix+":")
	if !ok {
		return Key{}, "", fmt.Errorf("session key %q: missing prefix %q", s, prefix)
	}
	fields := strings.Split(rest, ":")
	if len(fields) != 5 {
		return Key{}, "", fmt.Errorf("session key %q: want 5 fields after prefix, got %d", s, len(fields))
	}
	var ids [4]int64
	for i := range ids {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return Key{}, "", fmt.Errorf("session key %q: field %d: %w", s, i, err)
		}
		ids[i] = v
	}
	part := fields[4]
	if part != PartState && part != PartData {
		return Key{}, "", fmt.Errorf("session key %q: unknown part %q", s, part)
	}
	return Key{BotID: ids[0], ChatID: ids[1], UserID: ids[2], ThreadID: ids[3]}, part, nil
}
