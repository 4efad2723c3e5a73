package cipher

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrKey is returned for a malformed key string.
var ErrKey = errors.New("cipher: invalid key")

// Key maps ciphertext symbols to lower case plaintext letters.
type Key map[string]byte

var rxKey = regexp.MustCompile(`([^\s,=]+)=([A-Za-z]+)(?:[\s,]|$)`)

// ParseKey reads mappings like "A=e B=t" or "ABC=the", separated by spaces
// or commas. When both sides have the same length each character on the left
// maps to the character below it on the right; otherwise the right side must
// be a single letter and the whole left side is one symbol.
func ParseKey(s string) (Key, error) {
	k := Key{}
	mappings := rxKey.FindAllStringSubmatch(s, -1)
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: no mappings in %q", ErrKey, s)
	}

	for _, m := range mappings {
		enc, dec := m[1], strings.ToLower(m[2])
		switch {
		case len(enc) == len(dec):
			for i := 0; i < len(enc); i++ {
				if err := k.put(string(enc[i]), dec[i]); err != nil {
					return nil, err
				}
			}
		case len(dec) == 1:
			if err := k.put(enc, dec[0]); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s=%s", ErrKey, m[1], m[2])
		}
	}
	return k, nil
}

func (k Key) put(sym string, l byte) error {
	if prev, ok := k[sym]; ok && prev != l {
		return fmt.Errorf("%w: %q maps to both %c and %c", ErrKey, sym, prev, l)
	}
	k[sym] = l
	return nil
}

// String prints the key as "sym=letter" pairs sorted by symbol.
func (k Key) String() string {
	syms := make([]string, 0, len(k))
	for sym := range k {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var b strings.Builder
	for i, sym := range syms {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%c", sym, k[sym])
	}
	return b.String()
}
