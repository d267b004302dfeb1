// Package credentials holds per-connection auth material and the single-flight
// refresh coordination around it.
package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
)

// Data is the credential bag of a connection: user input plus derived fields
// (accessToken, refreshToken, expiresAt, ...).
type Data map[string]any

// String returns the field as a string, or "" when absent.
func (d Data) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// Merge returns a copy of d with updates applied on top.
func (d Data) Merge(updates Data) Data {
	out := d.Clone()
	maps.Copy(out, updates)
	return out
}

// Redacted returns a copy safe for logging.
func (d Data) Redacted(secretKeys ...string) Data {
	out := d.Clone()
	secret := map[string]bool{
		"accessToken": true, "refreshToken": true, "clientSecret": true,
		"apiKey": true, "password": true, "idToken": true, "code": true,
	}
	for _, k := range secretKeys {
		secret[k] = true
	}
	for k := range out {
		if secret[k] {
			out[k] = "***"
		}
	}
	return out
}

// Fingerprint identifies a version of the material. Refresh callers pass the
// fingerprint they observed so a refresh already done by someone else is not
// repeated.
func (d Data) Fingerprint() string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		b, _ := json.Marshal(d[k])
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(b)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
