// Package output renders command results as text, JSON or YAML.
// JSON and YAML output use the snake_case json tags of the rendered types.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.yaml.in/yaml/v3"
)

// Format represents the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want text, json or yaml)", s)
	}
}

// ErrorPayload is the structured form of an error.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Writer handles formatted output.
type Writer struct {
	format Format
	out    io.Writer
	errOut io.Writer
}

// Option configures the Writer.
type Option func(*Writer)

// WithOutput sets the standard output writer.
func WithOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.out = w
	}
}

// WithErrorOutput sets the error output writer.
func WithErrorOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.errOut = w
	}
}

// New creates a new output writer.
func New(format Format, opts ...Option) *Writer {
	w := &Writer{
		format: format,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Format returns the writer's format.
func (w *Writer) Format() Format { return w.format }

// IsStructured reports whether output is machine-readable.
func (w *Writer) IsStructured() bool {
	return w.format == FormatJSON || w.format == FormatYAML
}

// Write outputs data in the configured format. Text output prints data
// with %v.
func (w *Writer) Write(data any) error {
	return w.Render(data, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "%v\n", data)
		return err
	})
}

// Render encodes data for structured formats and calls text otherwise.
func (w *Writer) Render(data any, text func(out io.Writer) error) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		b, err := marshalYAML(data)
		if err != nil {
			return err
		}
		_, err = w.out.Write(b)
		return err
	case FormatText:
		return text(w.out)
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Success outputs a success message.
func (w *Writer) Success(msg string) {
	if w.IsStructured() {
		_ = w.Write(map[string]any{"status": "success", "message": msg})
		return
	}
	fmt.Fprintf(w.out, "✓ %s\n", msg)
}

// Error outputs an error message. Structured errors go to standard output
// so callers parsing it see a single document.
func (w *Writer) Error(err error, details any) {
	payload := ErrorPayload{Error: "error", Message: err.Error(), Details: details}
	if w.IsStructured() {
		_ = w.Write(payload)
		return
	}
	fmt.Fprintf(w.errOut, "✗ %s\n", err.Error())
}

// Table writes aligned columns to out.
func Table(out io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// marshalYAML converts via JSON first so YAML keys follow json tags.
func marshalYAML(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}
	normalized = numbersToNative(normalized)

	b, err := yaml.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b, nil
}

func numbersToNative(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = numbersToNative(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = numbersToNative(val)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
