package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SessionCode is the 6-digit human-shareable identifier for one broadcast
// session. Codes are short-lived and only meaningful while the broadcaster
// that generated them is active.
type SessionCode string

// ListenerID identifies one listener connection attempt. A fresh ID is
// generated per attempt and never reused across reconnects.
type ListenerID string

var sessionCodeRegex = regexp.MustCompile(`^\d{6}$`)

// GenerateSessionCode returns a random 6-digit session code.
func GenerateSessionCode() SessionCode {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand only fails if the OS entropy source is broken
		panic(fmt.Sprintf("session code generation: %v", err))
	}
	return SessionCode(fmt.Sprintf("%06d", n.Int64()+100000))
}

// ValidateSessionCode reports whether code is exactly six decimal digits.
func ValidateSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// NewListenerID returns a fresh listener identifier.
func NewListenerID() ListenerID {
	return ListenerID("student-" + uuid.NewString()[:8])
}

// SessionRecord is the transport-level document stored under
// sessions/{code}. Offers and answers are keyed by listener ID; an answer
// entry is only meaningful while the matching offer exists.
type SessionRecord struct {
	Offers    map[ListenerID]string
	Answers   map[ListenerID]string
	CreatedAt time.Time
}

// NewSessionRecord returns an empty record stamped with the current time.
func NewSessionRecord() *SessionRecord {
	return &SessionRecord{
		Offers:    make(map[ListenerID]string),
		Answers:   make(map[ListenerID]string),
		CreatedAt: time.Now(),
	}
}
