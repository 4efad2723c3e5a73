package cipher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// FromLine builds a one-row cipher from a line of text. Every character other
// than white space is a symbol. A line that is blank or whose first symbol
// is '#' yields nil.
func FromLine(name, line string) (*Cipher, error) {
	tokens := make([]string, 0, len(line))
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		if r == '#' && len(tokens) == 0 {
			return nil, nil
		}
		tokens = append(tokens, string(r))
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return New(name, 1, len(tokens), tokens)
}

// ReadLines reads one cryptogram per line. Ciphers are named after their line
// number.
func ReadLines(r io.Reader) ([]*Cipher, error) {
	var out []*Cipher
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lno := 0
	for s.Scan() {
		lno++
		c, err := FromLine(fmt.Sprintf("line %d", lno), s.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lno, err)
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, s.Err()
}

// File is the on-disk form of a cipher. JSON files decode through the same
// path since JSON is valid YAML.
type File struct {
	Name    string `yaml:"name" json:"name"`
	Rows    int    `yaml:"rows" json:"rows"`
	Columns int    `yaml:"columns" json:"columns"`
	// Ciphertext is the tokens separated by white space.
	Ciphertext    string `yaml:"ciphertext" json:"ciphertext"`
	KnownSolution string `yaml:"known_solution,omitempty" json:"known_solution,omitempty"`
	KnownKey      string `yaml:"known_key,omitempty" json:"known_key,omitempty"`
}

// Cipher converts the file form. Rows and columns default to a single row.
func (f File) Cipher() (*Cipher, error) {
	tokens := strings.Fields(f.Ciphertext)
	rows, cols := f.Rows, f.Columns
	if rows == 0 && cols == 0 {
		rows, cols = 1, len(tokens)
	}

	c, err := New(f.Name, rows, cols, tokens)
	if err != nil {
		return nil, fmt.Errorf("cipher %q: %w", f.Name, err)
	}
	switch {
	case f.KnownSolution != "":
		err = c.SetKnownSolution(f.KnownSolution)
	case f.KnownKey != "":
		var k Key
		if k, err = ParseKey(f.KnownKey); err == nil {
			err = c.SetKnownKey(k)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cipher %q: %w", f.Name, err)
	}
	return c, nil
}

// Load reads a YAML or JSON cipher file. A file without a name is named after
// its path.
func Load(path string) (*Cipher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cipher: %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = path
	}
	return f.Cipher()
}
