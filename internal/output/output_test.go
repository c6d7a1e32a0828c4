package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"
)

func newBuffered(format Format) (*Writer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(format, WithOutput(&out), WithErrorOutput(&errOut)), &out, &errOut
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON, " yaml ": FormatYAML}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q)=%q want %q", in, got, want)
		}
	}
	if _, err := ParseFormat("toml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestWriter_Write_Text(t *testing.T) {
	w, out, _ := newBuffered(FormatText)
	if err := w.Write("hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := out.String(); got != "hello\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestWriter_Write_JSON(t *testing.T) {
	w, out, _ := newBuffered(FormatJSON)
	if err := w.Write(map[string]any{"a": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(out.String(), "\n  ") {
		t.Fatalf("expected pretty-printed JSON, got: %q", out.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("json.Unmarshal: %v; out=%q", err, out.String())
	}
	if got, ok := payload["a"].(float64); !ok || got != 1 {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestWriter_Write_YAMLUsesJSONTags(t *testing.T) {
	type payload struct {
		CommandID string  `json:"command_id"`
		Credits   int64   `json:"credits"`
		Ratio     float64 `json:"ratio"`
	}
	w, out, _ := newBuffered(FormatYAML)
	if err := w.Write(payload{CommandID: "abc", Credits: 99, Ratio: 0.5}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal: %v; out=%q", err, out.String())
	}
	want := map[string]any{"command_id": "abc", "credits": 99, "ratio": 0.5}
	if !reflect.DeepEqual(decoded, want) {
		t.Fatalf("decoded=%#v want %#v", decoded, want)
	}
}

func TestWriter_Render_TextCallback(t *testing.T) {
	w, out, _ := newBuffered(FormatText)
	err := w.Render(map[string]int{"a": 1}, func(o io.Writer) error {
		_, err := io.WriteString(o, "custom\n")
		return err
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.String() != "custom\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}

	jw, jout, _ := newBuffered(FormatJSON)
	called := false
	if err := jw.Render(map[string]int{"a": 1}, func(io.Writer) error { called = true; return nil }); err != nil {
		t.Fatalf("Render json: %v", err)
	}
	if called || !strings.Contains(jout.String(), `"a": 1`) {
		t.Fatalf("json render used text callback or wrong output: %q", jout.String())
	}
}

func TestWriter_Write_UnsupportedFormat(t *testing.T) {
	w, _, _ := newBuffered(Format("bogus"))
	if err := w.Write("x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriter_Success(t *testing.T) {
	w, out, _ := newBuffered(FormatText)
	w.Success("ok")
	if got := out.String(); got != "✓ ok\n" {
		t.Fatalf("unexpected output: %q", got)
	}

	jw, jout, _ := newBuffered(FormatJSON)
	jw.Success("ok")
	var payload map[string]any
	if err := json.Unmarshal(jout.Bytes(), &payload); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if payload["status"] != "success" || payload["message"] != "ok" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestWriter_Error(t *testing.T) {
	w, out, errOut := newBuffered(FormatText)
	w.Error(errors.New("boom"), nil)
	if got := errOut.String(); got != "✗ boom\n" {
		t.Fatalf("unexpected output: %q", got)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing on stdout, got %q", out.String())
	}

	jw, jout, _ := newBuffered(FormatJSON)
	jw.Error(errors.New("boom"), map[string]any{"class": "validation"})
	var payload ErrorPayload
	if err := json.Unmarshal(jout.Bytes(), &payload); err != nil {
		t.Fatalf("json.Unmarshal: %v; out=%q", err, jout.String())
	}
	if payload.Error != "error" || payload.Message != "boom" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	details, ok := payload.Details.(map[string]any)
	if !ok || details["class"] != "validation" {
		t.Fatalf("unexpected details: %#v", payload.Details)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	if err := Table(&buf, []string{"id", "name"}, [][]string{{"1", "Alice"}, {"2", "Bob"}}); err != nil {
		t.Fatalf("Table: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (header + 2 rows), got %d: %q", len(lines), buf.String())
	}
	if got := strings.Fields(lines[0]); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Fatalf("unexpected header: %#v", got)
	}
	if got := strings.Fields(lines[2]); !reflect.DeepEqual(got, []string{"2", "Bob"}) {
		t.Fatalf("unexpected row2: %#v", got)
	}
	if strings.Index(lines[1], "Alice") != strings.Index(lines[0], "name") {
		t.Fatalf("columns not aligned:\n%s", buf.String())
	}
}
