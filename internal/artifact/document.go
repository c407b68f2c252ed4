package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

var (
	// ErrMissingBlock indicates the document has no fenced json or yaml block.
	ErrMissingBlock = errors.New("artifact: plan document has no data block")
	// ErrMalformedBlock indicates the data block is unterminated or does not
	// decode into a task list.
	ErrMalformedBlock = errors.New("artifact: malformed plan data block")
)

// Format selects the encoding of the embedded data block.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a fence info string onto a Format.
func ParseFormat(lang string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

const fence = "```"

// Document is a plan file: free-form narrative around exactly one fenced
// data block. Preamble and Epilogue are kept byte-for-byte.
type Document struct {
	Preamble string
	Data     workflow.WorkflowTaskList
	Epilogue string
	Format   Format

	lang     string
	hasBlock bool
}

// NewDocument wraps a task list with no surrounding narrative.
func NewDocument(data workflow.WorkflowTaskList, format Format) Document {
	if format == "" {
		format = FormatJSON
	}
	return Document{Data: data, Format: format}
}

// ParseDocument locates the first fenced json/yaml block and decodes it. When
// no block exists the returned document carries the whole content as its
// preamble alongside ErrMissingBlock, so a caller may attach a block to it.
func ParseDocument(content []byte) (Document, error) {
	text := string(content)
	start, openEnd, lang, ok := findOpeningFence(text)
	if !ok {
		return Document{Preamble: text, Format: FormatJSON}, ErrMissingBlock
	}
	closeStart, closeEnd, ok := findClosingFence(text, openEnd)
	if !ok {
		return Document{}, fmt.Errorf("%w: unterminated %s fence", ErrMalformedBlock, lang)
	}
	format, _ := ParseFormat(lang)
	data, err := decodeTaskList(format, []byte(text[openEnd:closeStart]))
	if err != nil {
		return Document{}, err
	}
	return Document{
		Preamble: text[:start],
		Data:     data,
		Epilogue: text[closeEnd:],
		Format:   format,
		lang:     lang,
		hasBlock: true,
	}, nil
}

// Render re-encodes Data into the block and reassembles the document. A
// document that never had a block gets one appended after the preamble.
func (d Document) Render() ([]byte, error) {
	format := d.Format
	if format == "" {
		format = FormatJSON
	}
	lang := d.lang
	if parsed, ok := ParseFormat(lang); !ok || parsed != format {
		lang = string(format)
	}
	body, err := encodeTaskList(format, d.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(d.Preamble)
	if !d.hasBlock && d.Preamble != "" {
		if !strings.HasSuffix(d.Preamble, "\n") {
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}
	buf.WriteString(fence + lang + "\n")
	buf.Write(body)
	buf.WriteString(fence)
	if d.hasBlock {
		buf.WriteString(d.Epilogue)
	} else {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

func findOpeningFence(text string) (start, end int, lang string, ok bool) {
	offset := 0
	for offset < len(text) {
		line, next := lineAt(text, offset)
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, fence) {
			info := strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			if _, known := ParseFormat(info); known {
				return offset, next, info, true
			}
		}
		offset = next
	}
	return 0, 0, "", false
}

func findClosingFence(text string, from int) (start, end int, ok bool) {
	offset := from
	for offset < len(text) {
		line, next := lineAt(text, offset)
		if strings.TrimSpace(line) == fence {
			idx := strings.Index(line, fence)
			return offset, offset + idx + len(fence), true
		}
		offset = next
	}
	return 0, 0, false
}

// lineAt returns the line starting at offset without its newline and the
// offset of the following line.
func lineAt(text string, offset int) (string, int) {
	idx := strings.IndexByte(text[offset:], '\n')
	if idx < 0 {
		return text[offset:], len(text)
	}
	return text[offset : offset+idx], offset + idx + 1
}

// planWire is the on-disk shape. Timestamps travel as RFC 3339 strings so
// both encodings round-trip identically.
type planWire struct {
	PlanID              string          `json:"plan_id" yaml:"plan_id"`
	PlanName            string          `json:"plan_name" yaml:"plan_name"`
	Tasks               []workflow.Task `json:"tasks" yaml:"tasks"`
	CreatedAt           string          `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	BreakdownAt         string          `json:"breakdown_at,omitempty" yaml:"breakdown_at,omitempty"`
	ExecutedAt          string          `json:"executed_at,omitempty" yaml:"executed_at,omitempty"`
	CompletedAt         string          `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	AutoParallelization bool            `json:"auto_parallelization" yaml:"auto_parallelization"`
}

func decodeTaskList(format Format, body []byte) (workflow.WorkflowTaskList, error) {
	var wire planWire
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(body))
		dec.KnownFields(true)
		if err := dec.Decode(&wire); err != nil {
			return workflow.WorkflowTaskList{}, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wire); err != nil {
			return workflow.WorkflowTaskList{}, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
		}
	}
	if strings.TrimSpace(wire.PlanID) == "" {
		return workflow.WorkflowTaskList{}, fmt.Errorf("%w: plan_id is required", ErrMalformedBlock)
	}
	list := workflow.WorkflowTaskList{
		PlanID:              wire.PlanID,
		PlanName:            wire.PlanName,
		Tasks:               wire.Tasks,
		AutoParallelization: wire.AutoParallelization,
	}
	var err error
	if wire.CreatedAt != "" {
		if list.CreatedAt, err = parseTime(wire.CreatedAt); err != nil {
			return workflow.WorkflowTaskList{}, fmt.Errorf("%w: created_at: %v", ErrMalformedBlock, err)
		}
	}
	stamps := []struct {
		name  string
		value string
		dst   **time.Time
	}{
		{"breakdown_at", wire.BreakdownAt, &list.BreakdownAt},
		{"executed_at", wire.ExecutedAt, &list.ExecutedAt},
		{"completed_at", wire.CompletedAt, &list.CompletedAt},
	}
	for _, stamp := range stamps {
		if stamp.value == "" {
			continue
		}
		t, err := parseTime(stamp.value)
		if err != nil {
			return workflow.WorkflowTaskList{}, fmt.Errorf("%w: %s: %v", ErrMalformedBlock, stamp.name, err)
		}
		*stamp.dst = &t
	}
	return list, nil
}

func encodeTaskList(format Format, list workflow.WorkflowTaskList) ([]byte, error) {
	wire := planWire{
		PlanID:              list.PlanID,
		PlanName:            list.PlanName,
		Tasks:               list.Tasks,
		AutoParallelization: list.AutoParallelization,
	}
	if wire.Tasks == nil {
		wire.Tasks = []workflow.Task{}
	}
	if !list.CreatedAt.IsZero() {
		wire.CreatedAt = formatTime(list.CreatedAt)
	}
	wire.BreakdownAt = formatOptional(list.BreakdownAt)
	wire.ExecutedAt = formatOptional(list.ExecutedAt)
	wire.CompletedAt = formatOptional(list.CompletedAt)

	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(wire); err != nil {
			return nil, fmt.Errorf("artifact: encode plan yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("artifact: encode plan yaml: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(wire); err != nil {
			return nil, fmt.Errorf("artifact: encode plan json: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
