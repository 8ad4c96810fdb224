package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/razeghi71/logq/record"
)

func TestParseMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		kind ModeKind
		tpl  string
	}{
		{"legacy", ModeLegacy, ""},
		{"json", ModeJSON, ""},
		{"logfmt", ModeLogfmt, ""},
		{"format={level}: {msg}", ModeFormat, "{level}: {msg}"},
	} {
		m, err := ParseMode(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.kind, m.Kind)
		require.Equal(t, tc.tpl, m.Template)
	}
}

func TestParseModeErrors(t *testing.T) {
	_, err := ParseMode("format=")
	require.Error(t, err)
	require.Contains(t, err.Error(), "template")

	_, err = ParseMode("bogus")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus")

	_, err = ParseMode("json=x")
	require.Error(t, err)
}

func TestLegacyRawPassthrough(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeLegacy}, &buf)
	require.NoError(t, r.Emit(record.New("plain line")))
	require.NoError(t, r.Close())
	require.Equal(t, "plain line\n", buf.String())
}

func TestLegacyGrowOnlyAlignment(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeLegacy}, &buf)
	require.NoError(t, r.Emit(record.New("").With("url", record.StrVal("/a"))))
	require.NoError(t, r.Emit(record.New("").With("url", record.StrVal("/whoami"))))
	require.NoError(t, r.Emit(record.New("").With("url", record.StrVal("/b"))))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, "[url=/a]", lines[0])
	require.Equal(t, "[url=/whoami]", lines[1])
	// Width never shrinks once grown.
	require.Equal(t, "[url=/b     ]", lines[2])
}

func TestJSONPreservesFieldOrder(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeJSON}, &buf)
	rec := record.New("").
		With("z", record.IntVal(1)).
		With("a", record.StrVal("x")).
		With("ok", record.BoolVal(true)).
		With("none", record.Null())
	require.NoError(t, r.Emit(rec))
	require.Equal(t, `{"z":1,"a":"x","ok":true,"none":null}`+"\n", buf.String())
}

func TestJSONNestedValues(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeJSON}, &buf)
	inner := record.New("").With("b", record.IntVal(2))
	rec := record.New("").
		With("obj", record.ObjectVal(inner)).
		With("arr", record.ArrayVal([]record.Value{record.IntVal(1), record.StrVal("s")}))
	require.NoError(t, r.Emit(rec))
	require.Equal(t, `{"obj":{"b":2},"arr":[1,"s"]}`+"\n", buf.String())
}

func TestLogfmtOutput(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeLogfmt}, &buf)
	rec := record.New("").
		With("level", record.StrVal("warn")).
		With("msg", record.StrVal("slow query"))
	require.NoError(t, r.Emit(rec))
	require.Equal(t, "level=warn msg=\"slow query\"\n", buf.String())
}

func TestFormatTemplate(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeFormat, Template: "{level} -> {msg}!"}, &buf)
	rec := record.New("").
		With("level", record.StrVal("info")).
		With("msg", record.StrVal("started"))
	require.NoError(t, r.Emit(rec))
	require.Equal(t, "info -> started!\n", buf.String())
}

func TestFormatUnknownFieldIsEmpty(t *testing.T) {
	var buf strings.Builder
	r := New(Mode{Kind: ModeFormat, Template: "<{ghost}>"}, &buf)
	require.NoError(t, r.Emit(record.New("").With("a", record.IntVal(1))))
	require.Equal(t, "<>\n", buf.String())
}
