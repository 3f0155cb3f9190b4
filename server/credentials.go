package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore answers authentication queries for the server.
//
// Implementations must be stateless and safe for concurrent use: the same
// (user, pass) pair always yields the same answer, and every session queries
// the same store. Any mismatch, including an unknown username, returns false
// without distinguishing the reason.
type CredentialStore interface {
	Authenticate(user, pass string) bool
}

// secret is a stored credential. Exactly one of plain or hash is set.
type secret struct {
	plain []byte // sha256 digest of the plaintext password
	hash  string // bcrypt hash
}

// StaticCredentials is an in-memory CredentialStore.
//
// Plaintext passwords are stored as sha256 digests and compared with
// crypto/subtle so the comparison runs in constant time regardless of where
// the candidate diverges. Hashed entries are verified with bcrypt.
//
// The store is populated before the server starts and never mutated after,
// so no locking is needed.
type StaticCredentials struct {
	users map[string]secret
}

// dummyDigest is compared against when the username is unknown, so the
// failure path costs the same as a wrong password.
var dummyDigest = sha256.Sum256([]byte("\x00"))

// NewStaticCredentials creates an empty credential store.
func NewStaticCredentials() *StaticCredentials {
	return &StaticCredentials{users: make(map[string]secret)}
}

// AddUser registers a user with a plaintext password.
func (c *StaticCredentials) AddUser(user, pass string) {
	digest := sha256.Sum256([]byte(pass))
	c.users[user] = secret{plain: digest[:]}
}

// AddUserHash registers a user with a bcrypt password hash, as produced by
// golang.org/x/crypto/bcrypt or `mediaftpd hashpw`.
func (c *StaticCredentials) AddUserHash(user, bcryptHash string) {
	c.users[user] = secret{hash: bcryptHash}
}

// Authenticate reports whether the user/password pair is valid.
func (c *StaticCredentials) Authenticate(user, pass string) bool {
	s, ok := c.users[user]
	digest := sha256.Sum256([]byte(pass))

	if !ok {
		subtle.ConstantTimeCompare(digest[:], dummyDigest[:])
		return false
	}

	if s.hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare(digest[:], s.plain) == 1
}

// IsBcryptHash reports whether the string looks like a bcrypt hash.
// Used by callers that accept either a plaintext password or a hash.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
