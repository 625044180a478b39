// Package idempotency provides deterministic encoding and hashing helpers
// shared by the fingerprinter (grouping-key hashing) and the project shard
// (user-identity hashing). Determinism is the only contract: the same
// logical input must always produce the same bytes, independent of map
// iteration order or insertion order.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
)

var ErrInputTooBig = errors.New("idempotency: input too big")

// MaxEncodedBytes bounds the deterministic encoding to guard against
// pathological inputs (e.g. a stacktrace with thousands of frames).
const MaxEncodedBytes = 64 * 1024

// DeterministicBytes encodes parts into canonical, order-independent JSON-like
// bytes: map keys are sorted, slices preserve order, primitives are encoded
// directly. It is meant for hashing, not for user-facing serialization.
func DeterministicBytes(parts ...any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeAny(&buf, parts); err != nil {
		return nil, err
	}
	if buf.Len() > MaxEncodedBytes {
		return nil, ErrInputTooBig
	}
	return buf.Bytes(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SHA256HexPrefix returns the first n hex characters of SHA256Hex(b).
// Used for the 32-char user_hash prefix (128 bits, sufficient for local
// set-membership counting; never used for authentication).
func SHA256HexPrefix(b []byte, n int) string {
	h := SHA256Hex(b)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}

// DeterministicHash is a convenience wrapper: encode parts deterministically
// then SHA-256 them, returning the lowercase hex digest.
func DeterministicHash(parts ...any) (string, error) {
	b, err := DeterministicBytes(parts...)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

func encodeAny(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
	case []string:
		buf.WriteByte('[')
		for i, s := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeAny(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeAny(buf, x[i]); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(strings.ToLower(strings.TrimSpace(k)))
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeAny(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
