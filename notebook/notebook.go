// Package notebook converts a loose JSON list of cells into an nbformat 4
// notebook.
package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	TypeCode     = "code"
	TypeMarkdown = "markdown"

	FormatMajor = 4
	FormatMinor = 5
)

// Cell is a converted notebook cell.
type Cell struct {
	Type   string
	ID     string
	Source string
}

type Notebook struct {
	Cells    []Cell
	Metadata Metadata
}

type Metadata struct {
	KernelSpec   KernelSpec   `json:"kernelspec"`
	LanguageInfo LanguageInfo `json:"language_info"`
}

type KernelSpec struct {
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
	Name        string `json:"name"`
}

type LanguageInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DefaultMetadata is attached to every converted notebook.
var DefaultMetadata = Metadata{
	KernelSpec: KernelSpec{
		DisplayName: "Python 3",
		Language:    "python",
		Name:        "python3",
	},
	LanguageInfo: LanguageInfo{
		Name:    "python",
		Version: "3.x",
	},
}

type inputDocument struct {
	Cells []inputCell `json:"cells"`
}

type inputCell struct {
	CellType json.RawMessage `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// NewCellID returns an 8 character hex id the way nbformat generates them.
func NewCellID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Convert reads the input document and keeps its markdown and code cells in
// order. Cells of any other type are dropped. newID may be nil.
func Convert(r io.Reader, newID func() string) (*Notebook, error) {
	if newID == nil {
		newID = NewCellID
	}

	var doc inputDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}

	nb := &Notebook{Cells: []Cell{}, Metadata: DefaultMetadata}
	for i, c := range doc.Cells {
		cellType, ok := cellTypeOf(c.CellType)
		if !ok {
			continue
		}

		source, err := joinSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		nb.Cells = append(nb.Cells, Cell{Type: cellType, ID: newID(), Source: source})
	}
	return nb, nil
}

// cellTypeOf reports the type of a kept cell. A missing cell_type means
// code; null or any non-string value is unsupported.
func cellTypeOf(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return TypeCode, true
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil || raw[0] != '"' {
		return "", false
	}
	return t, t == TypeCode || t == TypeMarkdown
}

// joinSource accepts a string or a list of strings, the latter joined
// without separator.
func joinSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("source must be a string or a list of strings")
	}
	return strings.Join(parts, ""), nil
}

type codeCell struct {
	CellType       string         `json:"cell_type"`
	ExecutionCount *int           `json:"execution_count"`
	ID             string         `json:"id"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []any          `json:"outputs"`
	Source         []string       `json:"source"`
}

type markdownCell struct {
	CellType string         `json:"cell_type"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
	Source   []string       `json:"source"`
}

type document struct {
	Cells         []any    `json:"cells"`
	Metadata      Metadata `json:"metadata"`
	NBFormat      int      `json:"nbformat"`
	NBFormatMinor int      `json:"nbformat_minor"`
}

// Encode renders nb as nbformat writes it to disk: keys sorted, one space
// indentation, sources split into lines and a trailing newline.
func (nb *Notebook) Encode() ([]byte, error) {
	doc := document{
		Cells:         make([]any, len(nb.Cells)),
		Metadata:      nb.Metadata,
		NBFormat:      FormatMajor,
		NBFormatMinor: FormatMinor,
	}
	for i, c := range nb.Cells {
		if c.Type == TypeMarkdown {
			doc.Cells[i] = markdownCell{
				CellType: c.Type,
				ID:       c.ID,
				Metadata: map[string]any{},
				Source:   splitLines(c.Source),
			}
			continue
		}
		doc.Cells[i] = codeCell{
			CellType: TypeCode,
			ID:       c.ID,
			Metadata: map[string]any{},
			Outputs:  []any{},
			Source:   splitLines(c.Source),
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(buf.Bytes()), nil
}

// unescapeLineSeparators writes U+2028 and U+2029 as raw UTF-8, which
// encoding/json always escapes. Escaped backslashes are skipped so a literal
// "\\u2028" in a source stays as typed.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			out = append(out, data[i])
			continue
		}
		if i+5 < len(data) && string(data[i+1:i+5]) == "u202" && (data[i+5] == '8' || data[i+5] == '9') {
			out = append(out, string(rune(0x2020+int(data[i+5]-'0')))...)
			i += 5
			continue
		}
		out = append(out, data[i])
		if i+1 < len(data) {
			out = append(out, data[i+1])
			i++
		}
	}
	return out
}

func (nb *Notebook) WriteTo(w io.Writer) (int64, error) {
	data, err := nb.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// splitLines splits s after every line boundary, keeping the boundaries.
// The boundaries are those of Python's str.splitlines, with \r\n counted as
// one.
func splitLines(s string) []string {
	lines := []string{}
	start := 0
	for i, r := range s {
		if i < start {
			continue
		}
		switch r {
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			end := i + utf8.RuneLen(r)
			lines = append(lines, s[start:end])
			start = end
		case '\r':
			end := i + 1
			if end < len(s) && s[end] == '\n' {
				end++
			}
			lines = append(lines, s[start:end])
			start = end
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
