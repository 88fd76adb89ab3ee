// Package secrets decrypts and routes per-request secret material carried
// in chunked `x-action-context*` headers (C6), and redacts it before it
// can reach artifacts or logs.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// envelopeKeyInfo is the HKDF info parameter binding a derived key to this
// specific envelope use, so the same configured key material can't be
// replayed against an unrelated AES-GCM context elsewhere in the process.
const envelopeKeyInfo = "actionserver-context-envelope"

// ErrNoMatchingKey is returned when none of the configured decrypt keys
// authenticate the envelope.
var ErrNoMatchingKey = errors.New("secrets: no configured key authenticates the envelope")

// ErrNoContextHeader is returned when the request carries no
// x-action-context header at all.
var ErrNoContextHeader = errors.New("secrets: no x-action-context header present")

const headerPrefix = "x-action-context"

type rawEnvelope struct {
	IV      string `json:"iv"`
	Cipher  string `json:"cipher"`
	AuthTag string `json:"auth_tag"`
}

// DecryptedTree is the JSON payload carried by a valid envelope.
type DecryptedTree struct {
	Secrets           map[string]json.RawMessage `json:"secrets"`
	InvocationContext map[string]json.RawMessage `json:"invocation_context"`
	DataContext       map[string]json.RawMessage `json:"data_context"`
}

// Decryptor holds the configured decrypt keys, tried in order until one
// authenticates. The first match wins, matching the spec's exact wording.
type Decryptor struct {
	keys [][]byte
}

// NewDecryptor parses ACTION_SERVER_DECRYPT_KEYS-style base64 key strings
// and derives a 32-byte AES-256 key from each via HKDF-SHA256, so operators
// can configure key material of any length rather than exactly 32 raw
// bytes.
func NewDecryptor(base64Keys []string) (*Decryptor, error) {
	keys := make([][]byte, 0, len(base64Keys))
	for _, k := range base64Keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("secrets: decode key: %w", err)
		}
		derived, err := deriveEnvelopeKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, derived)
	}
	return &Decryptor{keys: keys}, nil
}

// deriveEnvelopeKey expands raw configured key material into a 32-byte
// AES-256 key via HKDF-SHA256.
func deriveEnvelopeKey(raw []byte) ([]byte, error) {
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(envelopeKeyInfo)), derived); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return derived, nil
}

// ReassembleHeaders concatenates the chunked x-action-context[-N] headers
// in numeric order and returns the joined raw string.
func ReassembleHeaders(h http.Header) (string, error) {
	type chunk struct {
		index int
		value string
	}
	var chunks []chunk
	for name, values := range h {
		lower := strings.ToLower(name)
		if lower == headerPrefix {
			chunks = append(chunks, chunk{index: 0, value: firstOrEmpty(values)})
			continue
		}
		if strings.HasPrefix(lower, headerPrefix+"-") {
			suffix := strings.TrimPrefix(lower, headerPrefix+"-")
			n, err := strconv.Atoi(suffix)
			if err != nil {
				continue
			}
			chunks = append(chunks, chunk{index: n, value: firstOrEmpty(values)})
		}
	}
	if len(chunks) == 0 {
		return "", ErrNoContextHeader
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.value)
	}
	return sb.String(), nil
}

func firstOrEmpty(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Decrypt reassembles and decrypts the envelope from the request headers,
// trying each configured key until one authenticates via AES-256-GCM.
func (d *Decryptor) Decrypt(h http.Header) (*DecryptedTree, error) {
	joined, err := ReassembleHeaders(h)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(joined)
	if err != nil {
		return nil, fmt.Errorf("secrets: base64 decode envelope: %w", err)
	}
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("secrets: parse envelope: %w", err)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Cipher)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode cipher: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode auth tag: %w", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)

	for _, key := range d.keys {
		plain, err := openGCM(key, iv, sealed)
		if err != nil {
			continue
		}
		var tree DecryptedTree
		if err := json.Unmarshal(plain, &tree); err != nil {
			return nil, fmt.Errorf("secrets: parse decrypted tree: %w", err)
		}
		return &tree, nil
	}
	return nil, ErrNoMatchingKey
}

func openGCM(key, iv, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		gcm, err = cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
	}
	return gcm.Open(nil, iv, sealed, nil)
}

// constantTimeEqual is a constant-time byte comparison (hmac.Equal). It is
// unexported; the trigger engine calls hmac.Equal directly.
func constantTimeEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
