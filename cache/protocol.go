// Package cache is the marker cache: a key-value store owned by one process
// and shared with others over an authenticated TCP protocol.
//
// A Server holds the mapping. Clients Dial it, prove knowledge of the shared
// secret by answering an HMAC challenge, then issue bulk updates and gets.
// Values are opaque msgpack blobs to the server; last write wins per key.
// Nothing is persisted. An alternative backend on Redis implements the same
// Cache interface.
package cache

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrUnavailable = errors.New("marker cache unavailable")
	ErrClosed      = errors.New("marker cache client closed")
)

// Cache is what the stream driver writes to and the HTTP layer reads from.
type Cache interface {
	// Set replaces the value stored under key.
	Set(key string, value any) error
	// Get decodes the value under key into out. It reports false and leaves
	// out untouched when the key is absent.
	Get(key string, out any) (bool, error)
	Close() error
}

type statusCode int

const (
	statusOK                  statusCode = 100
	statusUnknownError        statusCode = 101
	statusRequestNotPermitted statusCode = 103
	statusUserIsNotLoggedIn   statusCode = 105
	statusPasswordIsIncorrect statusCode = 203
)

var statusCodes = map[statusCode]string{
	statusOK:                  "OK",
	statusUnknownError:        "Unknown error",
	statusRequestNotPermitted: "Request not permitted",
	statusUserIsNotLoggedIn:   "User is not logged in",
	statusPasswordIsIncorrect: "Password is incorrect",
}

const challengeSize = 32

type challengeBody struct {
	Nonce []byte `msgpack:"nonce"`
}

type loginRequest struct {
	Digest string `msgpack:"digest"`
	Client string `msgpack:"client"`
}

type loginResponse struct {
	Ret       statusCode `msgpack:"ret"`
	SessionID string     `msgpack:"session_id"`
}

type updateRequest struct {
	Entries map[string][]byte `msgpack:"entries"`
}

type getRequest struct {
	Key string `msgpack:"key"`
}

type getResponse struct {
	Ret   statusCode `msgpack:"ret"`
	Found bool       `msgpack:"found"`
	Value []byte     `msgpack:"value"`
}

type statusResponse struct {
	Ret statusCode `msgpack:"ret"`
	Msg string     `msgpack:"msg,omitempty"`
}

func digest(secret string, nonce []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

func checkDigest(secret string, nonce []byte, got string) bool {
	want := digest(secret, nonce)
	return hmac.Equal([]byte(want), []byte(got))
}
