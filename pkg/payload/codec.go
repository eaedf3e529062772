// Package payload builds the canonical wire representation of a domain event:
// a flattened entity snapshot, {{path}} variable substitution for templated
// destinations, and the third-party-compatible envelope that gets signed and
// delivered.
package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Envelope meta attributes
const (
	Version = "1.0"
	Source  = "studioflow"
)

// Meta carries envelope version and origin
type Meta struct {
	Version string `json:"version"`
	Source  string `json:"source"`
}

// Envelope is the canonical outbound payload. Field order is fixed and map
// keys serialize sorted, so Marshal is deterministic for a given envelope.
type Envelope struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Meta      Meta                   `json:"meta"`
}

// BuildEnvelope constructs the envelope for an event occurrence. The ID is
// "<eventType>_<entityID>_<shortHash>" where the hash covers the data so the
// same logical payload always gets the same ID.
func BuildEnvelope(eventType, entityID string, data map[string]interface{}, ts time.Time) *Envelope {
	return &Envelope{
		ID:        fmt.Sprintf("%s_%s_%s", eventType, entityID, shortHash(eventType, entityID, data)),
		EventType: eventType,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Data:      data,
		Meta:      Meta{Version: Version, Source: Source},
	}
}

// Marshal returns the canonical serialized bytes that get signed and sent
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func shortHash(eventType, entityID string, data map[string]interface{}) string {
	raw, _ := json.Marshal(data)
	sum := sha256.Sum256(append([]byte(eventType+":"+entityID+":"), raw...))
	return hex.EncodeToString(sum[:])[:8]
}

// Flatten converts a nested entity into a flat dotted key -> scalar map.
// Maps recurse with "parent.child" keys, slices with "parent.0" index keys,
// and time values render as RFC3339 strings.
func Flatten(prefix string, entity map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, prefix, entity)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, entity map[string]interface{}) {
	for key, value := range entity {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		flattenValue(out, path, value)
	}
}

func flattenValue(out map[string]interface{}, path string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		flattenInto(out, path, v)
	case []interface{}:
		for i, elem := range v {
			flattenValue(out, path+"."+strconv.Itoa(i), elem)
		}
	case time.Time:
		out[path] = v.UTC().Format(time.RFC3339)
	case nil:
		// absent, not empty: omit so conditions treat it as missing
	default:
		out[path] = v
	}
}

// tokenPattern matches {{dotted.path}} substitution tokens
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Substitute replaces every {{a.b.c}} token with the dotted lookup into the
// flattened snapshot. Unresolved tokens are left in place, not errored:
// callers treat them as a content-validation concern, not a transport failure.
func Substitute(template string, snapshot map[string]interface{}) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]
		if value, ok := snapshot[path]; ok {
			return fmt.Sprintf("%v", value)
		}
		return token
	})
}

// SubstituteConfig applies Substitute to every string value of an action
// config map, one level deep. Non-string values pass through untouched.
func SubstituteConfig(config map[string]interface{}, snapshot map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		if s, ok := v.(string); ok {
			out[k] = Substitute(s, snapshot)
		} else {
			out[k] = v
		}
	}
	return out
}
