// Package render writes finished records to an output stream. All renderers
// are streaming and append-only: a record is written the moment it arrives
// and is never revised afterwards.
package render

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-logfmt/logfmt"

	"github.com/razeghi71/logq/record"
)

// ModeKind identifies an output renderer.
type ModeKind int

const (
	ModeLegacy ModeKind = iota
	ModeJSON
	ModeLogfmt
	ModeFormat
)

// Mode is a parsed output-mode selection.
type Mode struct {
	Kind     ModeKind
	Template string // set for ModeFormat
}

// ParseMode parses an --output flag value.
func ParseMode(s string) (Mode, error) {
	name, rest, hasArg := strings.Cut(s, "=")
	switch name {
	case "legacy":
		if !hasArg {
			return Mode{Kind: ModeLegacy}, nil
		}
	case "json":
		if !hasArg {
			return Mode{Kind: ModeJSON}, nil
		}
	case "logfmt":
		if !hasArg {
			return Mode{Kind: ModeLogfmt}, nil
		}
	case "format":
		if rest == "" {
			return Mode{}, fmt.Errorf("format mode requires a template, e.g. format={field}")
		}
		return Mode{Kind: ModeFormat, Template: rest}, nil
	}
	return Mode{}, fmt.Errorf("unknown output mode %q", s)
}

// Renderer consumes finished records and writes them out.
type Renderer interface {
	Emit(rec *record.Record) error
	Close() error
}

// New constructs the renderer for a mode, writing to w.
func New(m Mode, w io.Writer) Renderer {
	switch m.Kind {
	case ModeJSON:
		return &jsonRenderer{w: w}
	case ModeLogfmt:
		return &logfmtRenderer{enc: logfmt.NewEncoder(w)}
	case ModeFormat:
		return newFormatRenderer(m.Template, w)
	default:
		return &legacyRenderer{w: w, widths: make(map[string]int)}
	}
}

// legacyRenderer prints [key=value] cells, padding each value to the widest
// seen so far for that key. Widths only grow, so columns stay aligned once
// they settle; earlier lines are never rewritten.
type legacyRenderer struct {
	w      io.Writer
	widths map[string]int
}

func (r *legacyRenderer) Emit(rec *record.Record) error {
	if rec.Len() == 0 {
		_, err := fmt.Fprintln(r.w, rec.Raw)
		return err
	}
	var sb strings.Builder
	for _, k := range rec.Keys() {
		v := rec.Get(k).AsString()
		if len(v) > r.widths[k] {
			r.widths[k] = len(v)
		}
		fmt.Fprintf(&sb, "[%s=%-*s]", k, r.widths[k], v)
	}
	_, err := fmt.Fprintln(r.w, sb.String())
	return err
}

func (r *legacyRenderer) Close() error { return nil }

// jsonRenderer writes one JSON object per record. encoding/json marshals maps
// in sorted key order, so objects are written by hand to keep field order.
type jsonRenderer struct {
	w io.Writer
}

func (r *jsonRenderer) Emit(rec *record.Record) error {
	var sb strings.Builder
	writeJSONRecord(&sb, rec)
	_, err := fmt.Fprintln(r.w, sb.String())
	return err
}

func (r *jsonRenderer) Close() error { return nil }

func writeJSONRecord(sb *strings.Builder, rec *record.Record) {
	sb.WriteByte('{')
	for i, k := range rec.Keys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte(':')
		writeJSONValue(sb, rec.Get(k))
	}
	sb.WriteByte('}')
}

func writeJSONValue(sb *strings.Builder, v record.Value) {
	switch v.Kind {
	case record.KindNull:
		sb.WriteString("null")
	case record.KindInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case record.KindFloat:
		sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case record.KindStr:
		sb.WriteString(strconv.Quote(v.Str))
	case record.KindBool:
		sb.WriteString(strconv.FormatBool(v.Bool))
	case record.KindArray:
		sb.WriteByte('[')
		for i, el := range v.Array {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONValue(sb, el)
		}
		sb.WriteByte(']')
	case record.KindObject:
		writeJSONRecord(sb, v.Object)
	}
}

// logfmtRenderer writes key=value pairs per line via go-logfmt. A record with
// no fields still prints its raw line under a "raw" key so nothing is lost.
type logfmtRenderer struct {
	enc *logfmt.Encoder
}

func (r *logfmtRenderer) Emit(rec *record.Record) error {
	if rec.Len() == 0 {
		if err := r.enc.EncodeKeyval("raw", rec.Raw); err != nil {
			return err
		}
		return r.enc.EndRecord()
	}
	for _, k := range rec.Keys() {
		if err := r.enc.EncodeKeyval(k, rec.Get(k).AsString()); err != nil {
			return err
		}
	}
	return r.enc.EndRecord()
}

func (r *logfmtRenderer) Close() error { return nil }

var formatPlaceholder = regexp.MustCompile(`\{([^{}]*)\}`)

// formatRenderer substitutes {field} placeholders in a fixed template.
// Unknown fields render as empty strings, which is Get's null behavior.
type formatRenderer struct {
	w        io.Writer
	literals []string // len(fields)+1 pieces around the placeholders
	fields   []string
}

func newFormatRenderer(template string, w io.Writer) *formatRenderer {
	r := &formatRenderer{w: w}
	last := 0
	for _, loc := range formatPlaceholder.FindAllStringSubmatchIndex(template, -1) {
		r.literals = append(r.literals, template[last:loc[0]])
		r.fields = append(r.fields, template[loc[2]:loc[3]])
		last = loc[1]
	}
	r.literals = append(r.literals, template[last:])
	return r
}

func (r *formatRenderer) Emit(rec *record.Record) error {
	var sb strings.Builder
	for i, f := range r.fields {
		sb.WriteString(r.literals[i])
		sb.WriteString(rec.Get(f).AsString())
	}
	sb.WriteString(r.literals[len(r.literals)-1])
	_, err := fmt.Fprintln(r.w, sb.String())
	return err
}

func (r *formatRenderer) Close() error { return nil }
