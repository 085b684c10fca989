// Package frontmatter reads and writes the YAML header footnote stores at
// the top of every note file: {uuid, modified, share_with}.
package frontmatter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/carverauto/footnote/pkg/lamport"
)

const delimiter = "---"

// ErrMalformedFrontmatter is returned when a file does not contain a
// well-formed `---`-delimited YAML header.
var ErrMalformedFrontmatter = errors.New("malformed frontmatter")

// Header is the structured content of a note's frontmatter block.
type Header struct {
	UUID       uuid.UUID     `yaml:"uuid"`
	Modified   lamport.Clock `yaml:"modified"`
	ShareWith  []string      `yaml:"share_with"`
}

// Note is a parsed note file: its header and the body text that follows.
type Note struct {
	Header Header
	Body   string
}

// Parse splits raw note content into its frontmatter header and body.
// Content must open with a line containing exactly "---", followed by YAML,
// followed by a closing "---" line.
func Parse(content []byte) (Note, error) {
	text := string(content)

	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return Note{}, ErrMalformedFrontmatter
	}

	closeIdx := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			closeIdx = i

			break
		}
	}

	if closeIdx < 0 {
		return Note{}, ErrMalformedFrontmatter
	}

	headerYAML := strings.Join(lines[1:closeIdx], "\n")
	body := strings.Join(lines[closeIdx+1:], "\n")
	body = strings.TrimPrefix(body, "\n")

	var h Header
	if err := yaml.Unmarshal([]byte(headerYAML), &h); err != nil {
		return Note{}, fmt.Errorf("%w: %w", ErrMalformedFrontmatter, err)
	}

	return Note{Header: h, Body: body}, nil
}

// Render serializes a Note back into the `---`-delimited file form.
func Render(n Note) ([]byte, error) {
	headerYAML, err := yaml.Marshal(n.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder

	b.WriteString(delimiter)
	b.WriteString("\n")
	b.Write(headerYAML)
	b.WriteString(delimiter)
	b.WriteString("\n")
	b.WriteString(n.Body)

	return []byte(b.String()), nil
}

// NewHeader builds a Header for a freshly created note with a random UUID
// and the current Lamport time.
func NewHeader() Header {
	return Header{
		UUID:     uuid.New(),
		Modified: lamport.Next(nil),
		ShareWith: nil,
	}
}

// Touch advances h.Modified per Lamport rules, as required on every write.
func Touch(h Header) Header {
	prev := h.Modified
	h.Modified = lamport.Next(&prev)

	return h
}
