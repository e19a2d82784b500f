// Package secret provides a zeroizing holder for provider credentials:
// the gateway's configuration wraps API keys in this type so the bytes
// are wiped once the holder is released and neither String nor a default
// struct dump ever reveals the plaintext.
package secret

import "fmt"

// String is a credential that zeroes its backing array when Destroy is
// called (Go has no destructors, so callers must call Destroy explicitly
// — typically via defer right after construction, mirroring the
// teacher's close-on-shutdown idiom elsewhere in this module). String
// intentionally has no Stringer/GoStringer method that reveals the
// plaintext; fmt's default verbs fall back to the redacted String()
// below instead of reflecting into the unexported field.
type String struct {
	bytes []byte
}

// New copies plaintext into a new holder. Callers should not retain the
// original plaintext slice; New does not take ownership of it.
func New(plaintext string) *String {
	b := make([]byte, len(plaintext))
	copy(b, plaintext)
	return &String{bytes: b}
}

// Reveal returns the plaintext for the single call site permitted to use
// it (the dispatch step building a provider request). Callers must not
// retain the returned string beyond that call.
func (s *String) Reveal() string {
	if s == nil || s.bytes == nil {
		return ""
	}
	return string(s.bytes)
}

// Destroy zeroes the backing array. After Destroy, Reveal returns "".
// Destroy is idempotent.
func (s *String) Destroy() {
	if s == nil {
		return
	}
	for i := range s.bytes {
		s.bytes[i] = 0
	}
	s.bytes = nil
}

// String implements fmt.Stringer with a fixed redaction, so accidental
// logging (including via %v on a struct that embeds *String) never leaks
// the credential.
func (s *String) String() string {
	return "[REDACTED]"
}

// GoFormat implements fmt.GoStringer for the same reason %#v is covered.
func (s *String) GoString() string {
	return "secret.String([REDACTED])"
}

var _ fmt.Stringer = (*String)(nil)
