// Package legacy decodes the per-user attributes the role taxonomy is derived
// from: the serialized capability map and the numeric user level.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Attribute keys in user_meta.
const (
	KeyCapabilities = "capabilities"
	KeyUserLevel    = "user_level"
)

// ErrMalformed is returned when a capability blob cannot be decoded.
var ErrMalformed = errors.New("legacy: malformed capability map")

// Capability is one entry of the label to flag mapping.
type Capability struct {
	Name    string
	Granted bool
}

// Capabilities is the decoded capability map in storage order.
type Capabilities struct {
	entries []Capability
}

// NewCapabilities builds a map granting every name in order.
func NewCapabilities(names ...string) Capabilities {
	var c Capabilities
	for _, name := range names {
		c.set(name, true)
	}
	return c
}

// Len returns the number of entries.
func (c Capabilities) Len() int { return len(c.entries) }

// Names returns every key in storage order regardless of its flag.
func (c Capabilities) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// Granted returns the keys whose flag is truthy, in storage order.
func (c Capabilities) Granted() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Granted {
			names = append(names, e.Name)
		}
	}
	return names
}

// Last returns the final key of the mapping. The last key is the canonical
// role: when a user carries several roles the most recently assigned one wins.
func (c Capabilities) Last() (string, bool) {
	if len(c.entries) == 0 {
		return "", false
	}
	return c.entries[len(c.entries)-1].Name, true
}

// Without returns a copy with name removed.
func (c Capabilities) Without(name string) Capabilities {
	out := Capabilities{entries: make([]Capability, 0, len(c.entries))}
	for _, e := range c.entries {
		if e.Name != name {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// With returns a copy with name granted and appended when missing.
func (c Capabilities) With(name string) Capabilities {
	out := Capabilities{entries: append([]Capability(nil), c.entries...)}
	out.set(name, true)
	return out
}

// set keeps the position of an existing key, matching how repeated keys
// behave in the serialized form.
func (c *Capabilities) set(name string, granted bool) {
	for i := range c.entries {
		if c.entries[i].Name == name {
			c.entries[i].Granted = granted
			return
		}
	}
	c.entries = append(c.entries, Capability{Name: name, Granted: granted})
}

// DecodeCapabilities parses a stored capability blob. Both the PHP serialized
// array form and JSON objects are accepted; empty input yields an empty map.
func DecodeCapabilities(raw string) (Capabilities, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Capabilities{}, nil
	case strings.HasPrefix(raw, "a:"):
		entries, err := decodePHPArray(raw)
		if err != nil {
			return Capabilities{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var c Capabilities
		for _, e := range entries {
			c.set(e.Name, e.Granted)
		}
		return c, nil
	case strings.HasPrefix(raw, "{"):
		return decodeJSON(raw)
	default:
		return Capabilities{}, fmt.Errorf("%w: unrecognised encoding", ErrMalformed)
	}
}

func decodeJSON(raw string) (Capabilities, error) {
	om := orderedmap.New[string, any]()
	if err := json.Unmarshal([]byte(raw), om); err != nil {
		return Capabilities{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var c Capabilities
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		c.set(pair.Key, truthy(pair.Value))
	}
	return c, nil
}

// CanonicalRole decodes raw and returns its last key.
func CanonicalRole(raw string) (string, bool, error) {
	caps, err := DecodeCapabilities(raw)
	if err != nil {
		return "", false, err
	}
	role, ok := caps.Last()
	return role, ok, nil
}

// Encode serializes the map in the PHP array form used by legacy readers.
func (c Capabilities) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "a:%d:{", len(c.entries))
	for _, e := range c.entries {
		flag := 0
		if e.Granted {
			flag = 1
		}
		fmt.Fprintf(&b, "s:%d:\"%s\";b:%d;", len(e.Name), e.Name, flag)
	}
	b.WriteString("}")
	return b.String()
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != "" && val != "0"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	case *orderedmap.OrderedMap[string, any]:
		return val.Len() > 0
	default:
		return true
	}
}
