// Package tokenizer converts text to and from model-visible tokens and
// reports exact counts. All size budgets in the pipeline are expressed
// in these units.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// encoding returns the process-wide shared encoding table. It is
// read-only after initialization and safe for concurrent use.
func encoding() *tiktoken.Tiktoken {
	once.Do(func() {
		loaded, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			panic("tokenizer: load " + encodingName + " encoding: " + err.Error())
		}
		enc = loaded
	})
	return enc
}

// Count reports how many tokens text decomposes into.
func Count(text string) int {
	if text == "" {
		return 0
	}
	return len(encoding().Encode(text, nil, nil))
}

// Encode converts text into its ordered token sequence.
func Encode(text string) []int {
	if text == "" {
		return nil
	}
	return encoding().Encode(text, nil, nil)
}

// Decode converts a token sequence back to text. Sub-sequences sliced
// at arbitrary boundaries still decode to valid text.
func Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return encoding().Decode(tokens)
}
