package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// Header describes a generated file such as an outbox work order.
type Header struct {
	Kind      string
	ID        string
	PlanID    string
	Wave      int
	Category  string
	Skills    []string
	Assignee  string
	CreatedAt time.Time
	Notes     map[string]string
}

// ParseFrontMatter extracts the header and body from a document that starts
// with `---` YAML fences.
func ParseFrontMatter(content []byte) (Header, []byte, error) {
	if len(content) == 0 {
		return Header{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Header{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Header{}, nil, ErrMalformedFrontMatter
	}
	var envelope headerEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Header{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	header, err := envelope.toHeader()
	if err != nil {
		return Header{}, nil, err
	}
	return header, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

// WriteFrontMatter renders header + body with YAML fences.
func WriteFrontMatter(header Header, body []byte) ([]byte, error) {
	if header.Kind == "" || header.ID == "" {
		return nil, fmt.Errorf("artifact: header requires kind and id")
	}
	var envelope headerEnvelope
	envelope.fromHeader(header)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type headerEnvelope struct {
	Lattice latticeHeader `yaml:"lattice"`
}

type latticeHeader struct {
	Kind     string            `yaml:"kind"`
	ID       string            `yaml:"id"`
	Plan     string            `yaml:"plan,omitempty"`
	Wave     int               `yaml:"wave,omitempty"`
	Category string            `yaml:"category,omitempty"`
	Skills   []string          `yaml:"skills,omitempty"`
	Assignee string            `yaml:"assignee,omitempty"`
	Created  string            `yaml:"created"`
	Notes    map[string]string `yaml:"notes,omitempty"`
}

func (e headerEnvelope) toHeader() (Header, error) {
	if e.Lattice.Kind == "" || e.Lattice.ID == "" {
		return Header{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(e.Lattice.Created)
	if err != nil {
		return Header{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Header{
		Kind:      e.Lattice.Kind,
		ID:        e.Lattice.ID,
		PlanID:    e.Lattice.Plan,
		Wave:      e.Lattice.Wave,
		Category:  e.Lattice.Category,
		Skills:    cloneStrings(e.Lattice.Skills),
		Assignee:  e.Lattice.Assignee,
		CreatedAt: created,
		Notes:     cloneNotes(e.Lattice.Notes),
	}, nil
}

func (e *headerEnvelope) fromHeader(h Header) {
	e.Lattice = latticeHeader{
		Kind:     h.Kind,
		ID:       h.ID,
		Plan:     h.PlanID,
		Wave:     h.Wave,
		Category: h.Category,
		Skills:   cloneStrings(h.Skills),
		Assignee: h.Assignee,
		Created:  formatTime(h.CreatedAt),
		Notes:    cloneNotes(h.Notes),
	}
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
