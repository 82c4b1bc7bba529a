package rest

import (
	"errors"
	"net/http"
	"strings"
)

// KeyClass separates internal producer keys from read-only keys.
type KeyClass int

const (
	KeyClassNone KeyClass = iota
	KeyClassRead
	KeyClassInternal
)

var (
	ErrMissingKey = errors.New("missing bearer key")
	ErrUnknownKey = errors.New("unknown api key")
)

// Keyring resolves bearer keys to their class. Key storage internals live
// elsewhere; this is the thin policy layer at the gateway boundary.
type Keyring struct {
	internal map[string]struct{}
	read     map[string]struct{}
}

func NewKeyring(internalKeys, readKeys []string) *Keyring {
	k := &Keyring{
		internal: make(map[string]struct{}, len(internalKeys)),
		read:     make(map[string]struct{}, len(readKeys)),
	}
	for _, key := range internalKeys {
		k.internal[key] = struct{}{}
	}
	for _, key := range readKeys {
		k.read[key] = struct{}{}
	}
	return k
}

// Lookup classifies a bare key string.
func (k *Keyring) Lookup(key string) (KeyClass, bool) {
	if _, ok := k.internal[key]; ok {
		return KeyClassInternal, true
	}
	if _, ok := k.read[key]; ok {
		return KeyClassRead, true
	}
	return KeyClassNone, false
}

// Authenticate extracts and classifies the bearer key of a request.
func (k *Keyring) Authenticate(r *http.Request) (string, KeyClass, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", KeyClassNone, ErrMissingKey
	}
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || key == "" {
		return "", KeyClassNone, ErrMissingKey
	}
	if _, ok := k.internal[key]; ok {
		return key, KeyClassInternal, nil
	}
	if _, ok := k.read[key]; ok {
		return key, KeyClassRead, nil
	}
	return "", KeyClassNone, ErrUnknownKey
}
