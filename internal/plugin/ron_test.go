package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Value
	}{
		{name: "string escapes", input: `"a\"b\\c\n\u{e9}"`, want: Str("a\"b\\c\né")},
		{name: "number", input: `-12.5`, want: Num(-12.5)},
		{name: "bool", input: `true`, want: Bool(true)},
		{name: "list trailing comma", input: `["a", "b",]`, want: List{Str("a"), Str("b")}},
		{name: "empty list", input: `[]`, want: List{}},
		{name: "map", input: `{"k": "v", "n": 1}`, want: Map{"k": Str("v"), "n": Num(1)}},
		{name: "unit variant", input: `Lens`, want: Struct{Name: "Lens"}},
		{name: "tuple variant", input: `Some("x")`, want: Struct{Name: "Some", Tuple: []Value{Str("x")}}},
		{
			name:  "named struct with comments",
			input: "// header\nEnqueue(\n  urls: [\"https://a.test/\"], /* inline */\n)",
			want:  Struct{Name: "Enqueue", Fields: map[string]Value{"urls": List{Str("https://a.test/")}}},
		},
		{
			name:  "anonymous struct",
			input: `(name: "x", nested: (a: false))`,
			want: Struct{Fields: map[string]Value{
				"name":   Str("x"),
				"nested": Struct{Fields: map[string]Value{"a": Bool(false)}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		``,
		`"unterminated`,
		`[1, 2`,
		`{key: 1}`,
		`Enqueue(urls: [] extra`,
		`(a: 1, 2)`,
		`"bad \q escape"`,
		`"x" trailing`,
	} {
		_, err := Decode(input)
		require.ErrorIs(t, err, ErrSyntax, input)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	v := Struct{Name: "SyncFile", Fields: map[string]Value{
		"dst": Str("/inbox"),
		"src": Str("C:\\Users\\me\\notes \"q\".txt"),
	}}
	text := Encode(v)
	require.Equal(t, `SyncFile(dst: "/inbox", src: "C:\\Users\\me\\notes \"q\".txt")`, text)
	back, err := Decode(text)
	require.NoError(t, err)
	require.Equal(t, v, back)

	require.Equal(t, `{"a": [1, true]}`, Encode(Map{"a": List{Num(1), Bool(true)}}))
	require.Equal(t, `Lens`, Encode(Struct{Name: "Lens"}))
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	cfg, err := ParseManifest([]byte(`(
		name: "bookmarks",
		description: "Imports bookmarks",
		plugin_type: Connector,
		user_settings: {"PROFILE": "default"},
	)`))
	require.NoError(t, err)
	require.Equal(t, "bookmarks", cfg.Name)
	require.Equal(t, "Unknown", cfg.Author)
	require.Equal(t, TypeConnector, cfg.Type)
	require.Equal(t, map[string]string{"PROFILE": "default"}, cfg.UserSettings)

	cfg, err = ParseManifest([]byte(`(name: "plain")`))
	require.NoError(t, err)
	require.Equal(t, TypeLens, cfg.Type)

	for _, bad := range []string{
		`(author: "x")`,
		`(name: "x", plugin_type: Spaceship)`,
		`(name: "x", user_settings: {"a": 1})`,
		`["not", "a", "struct"]`,
	} {
		_, err := ParseManifest([]byte(bad))
		require.ErrorIs(t, err, ErrSyntax, bad)
	}
}
