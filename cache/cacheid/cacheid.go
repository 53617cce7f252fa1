// Package cacheid derives cache identifiers from an owner identity and a
// set of JSON parameters.
//
// The identifier is the lowercase hex BLAKE2b-512 digest of
//
//	identity + "\n" + canonical_json(params)
//
// where canonical JSON has object keys sorted at every level and no
// insignificant whitespace. The same inputs always produce the same
// identifier; callers who cannot reproduce both inputs cannot address
// another identity's entries.
package cacheid

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/kbase/caching-service/cache"

	"golang.org/x/crypto/blake2b"
)

// Length is the number of hex characters in every cache identifier.
const Length = blake2b.Size * 2

var idRegex = regexp.MustCompile("^[a-f0-9]{128}$")

// Generate returns the cache identifier for identity and params. params may
// be any value that serializes to a non-empty JSON object.
func Generate(identity string, params interface{}) (string, error) {
	if identity == "" {
		return "", cache.Errorf(cache.KindInvalidInput, "identity must be a non-empty string")
	}
	if params == nil {
		return "", cache.Errorf(cache.KindInvalidInput, "must provide non-empty JSON data for the cache identifier")
	}

	obj, err := normalize(params)
	if err != nil {
		return "", err
	}

	canonical, err := Canonicalize(obj)
	if err != nil {
		return "", err
	}

	return digest(identity, canonical), nil
}

// GenerateFromJSON is like Generate, but takes the raw JSON text of the
// parameters. Numbers are kept exactly as written rather than converted to
// floating point.
func GenerateFromJSON(identity string, data []byte) (string, error) {
	if identity == "" {
		return "", cache.Errorf(cache.KindInvalidInput, "identity must be a non-empty string")
	}
	v, err := decode(data)
	if err != nil {
		return "", err
	}
	return Generate(identity, v)
}

// Canonicalize returns the canonical JSON text of v: sorted keys, no
// whitespace and no HTML escaping.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		return nil, cache.Errorf(cache.KindInvalidInput, "params are not serializable as JSON: %v", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Validate checks that id has the shape of a cache identifier. It does not
// check that the identifier exists.
func Validate(id string) error {
	if len(id) != Length {
		return fmt.Errorf("invalid cache ID length %d: expected %d", len(id), Length)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("malformed cache ID %q", id)
	}
	return nil
}

func digest(identity string, canonical []byte) string {
	h, _ := blake2b.New512(nil)
	h.Write([]byte(identity))
	h.Write([]byte{'\n'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// normalize round-trips params through JSON, so that structs, maps and raw
// messages with the same content hash identically, and checks that the
// result is a non-empty object.
func normalize(params interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, cache.Errorf(cache.KindInvalidInput, "params are not serializable as JSON: %v", err)
	}

	v, err := decode(data)
	if err != nil {
		return nil, err
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, cache.Errorf(cache.KindInvalidInput, "params must be a JSON object")
	}
	if len(obj) == 0 {
		return nil, cache.Errorf(cache.KindInvalidInput, "must provide non-empty JSON data for the cache identifier")
	}
	return obj, nil
}

func decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	err := dec.Decode(&v)
	if err != nil {
		return nil, cache.Errorf(cache.KindInvalidInput, "JSON parsing error: %v", err)
	}
	if dec.More() {
		return nil, cache.Errorf(cache.KindInvalidInput, "JSON parsing error: trailing data after top-level value")
	}
	return v, nil
}
