package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "plain sentence", text: "Go makes backend services easier."},
		{name: "markdown", text: "# Title\n\nSome **bold** prose.\n\n---\n\n## Section"},
		{name: "unicode", text: "héllo wörld — 你好，世界 🙂"},
		{name: "whitespace heavy", text: "  leading\n\n\ttabbed\n   trailing  "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.text, Decode(Encode(tt.text)))
		})
	}
}

func TestCountMatchesEncode(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	require.Equal(t, len(Encode(text)), Count(text))
	require.Positive(t, Count(text))
}

func TestEmptyInput(t *testing.T) {
	require.Zero(t, Count(""))
	require.Empty(t, Encode(""))
	require.Equal(t, "", Decode(nil))
}

func TestDecodeArbitrarySubSequences(t *testing.T) {
	text := "Splitting a token stream at any index must still decode to valid text, even off a clean boundary. 测试文本。"
	units := Encode(text)
	require.Greater(t, len(units), 4)

	for _, cut := range []int{1, len(units) / 3, len(units) / 2, len(units) - 1} {
		head := Decode(units[:cut])
		tail := Decode(units[cut:])
		// Token byte spans concatenate back to the original bytes.
		require.Equal(t, text, head+tail)
	}
}
