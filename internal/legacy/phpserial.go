package legacy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// minEntryLen is the size of the shortest key/value pair, `i:0;N;`.
const minEntryLen = 6

// phpReader walks a PHP serialize() payload. Only scalars and arrays are
// understood; object payloads are rejected.
type phpReader struct {
	s   string
	pos int
}

func decodePHPArray(s string) ([]Capability, error) {
	r := &phpReader{s: s}
	entries, err := r.array()
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.s) {
		return nil, fmt.Errorf("trailing data at offset %d", r.pos)
	}
	return entries, nil
}

func (r *phpReader) array() ([]Capability, error) {
	if err := r.expect("a:"); err != nil {
		return nil, err
	}
	n, err := r.intUntil(':')
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("negative array length")
	}
	// Each entry takes at least minEntryLen bytes.
	if n > (len(r.s)-r.pos)/minEntryLen {
		return nil, fmt.Errorf("array length %d exceeds payload", n)
	}
	if err := r.expect("{"); err != nil {
		return nil, err
	}
	entries := make([]Capability, 0, n)
	for i := 0; i < n; i++ {
		key, err := r.key()
		if err != nil {
			return nil, err
		}
		val, err := r.value()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Capability{Name: key, Granted: val})
	}
	if err := r.expect("}"); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *phpReader) key() (string, error) {
	switch r.peek() {
	case 's':
		return r.str()
	case 'i':
		if err := r.expect("i:"); err != nil {
			return "", err
		}
		n, err := r.intUntil(';')
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	default:
		return "", fmt.Errorf("unsupported key type %q at offset %d", r.peek(), r.pos)
	}
}

// value consumes one value and reports its truthiness.
func (r *phpReader) value() (bool, error) {
	switch r.peek() {
	case 'b':
		if err := r.expect("b:"); err != nil {
			return false, err
		}
		n, err := r.intUntil(';')
		if err != nil {
			return false, err
		}
		return n != 0, nil
	case 'i':
		if err := r.expect("i:"); err != nil {
			return false, err
		}
		n, err := r.intUntil(';')
		if err != nil {
			return false, err
		}
		return n != 0, nil
	case 'd':
		if err := r.expect("d:"); err != nil {
			return false, err
		}
		raw, err := r.until(';')
		if err != nil {
			return false, err
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, fmt.Errorf("bad float %q", raw)
		}
		return f != 0, nil
	case 's':
		v, err := r.str()
		if err != nil {
			return false, err
		}
		return v != "" && v != "0", nil
	case 'N':
		return false, r.expect("N;")
	case 'a':
		nested, err := r.array()
		if err != nil {
			return false, err
		}
		return len(nested) > 0, nil
	default:
		return false, fmt.Errorf("unsupported value type %q at offset %d", r.peek(), r.pos)
	}
}

// str reads s:<len>:"<bytes>"; where len counts bytes, not runes.
func (r *phpReader) str() (string, error) {
	if err := r.expect("s:"); err != nil {
		return "", err
	}
	n, err := r.intUntil(':')
	if err != nil {
		return "", err
	}
	if err := r.expect(`"`); err != nil {
		return "", err
	}
	if n < 0 || r.pos+n > len(r.s) {
		return "", fmt.Errorf("string length %d out of range", n)
	}
	v := r.s[r.pos : r.pos+n]
	r.pos += n
	if err := r.expect(`";`); err != nil {
		return "", err
	}
	return v, nil
}

func (r *phpReader) peek() byte {
	if r.pos >= len(r.s) {
		return 0
	}
	return r.s[r.pos]
}

func (r *phpReader) expect(tok string) error {
	if !strings.HasPrefix(r.s[r.pos:], tok) {
		return fmt.Errorf("expected %q at offset %d", tok, r.pos)
	}
	r.pos += len(tok)
	return nil
}

func (r *phpReader) until(delim byte) (string, error) {
	idx := strings.IndexByte(r.s[r.pos:], delim)
	if idx < 0 {
		return "", fmt.Errorf("missing %q after offset %d", delim, r.pos)
	}
	v := r.s[r.pos : r.pos+idx]
	r.pos += idx + 1
	return v, nil
}

func (r *phpReader) intUntil(delim byte) (int, error) {
	raw, err := r.until(delim)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", raw)
	}
	return n, nil
}
