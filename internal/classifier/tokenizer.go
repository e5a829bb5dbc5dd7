package classifier

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const fallbackEncoding = "cl100k_base"

// Tokenizer turns text into model tokens and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TiktokenTokenizer uses the BPE ranks of the target model. The ranks are
// compiled into the binary, so no download happens at runtime.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer for %s: %w", model, err)
		}
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Chunk cuts text into contiguous pieces of at most budget tokens. Boundaries
// ignore sentence structure. A budget <= 0 yields a single chunk.
func Chunk(tok Tokenizer, text string, budget int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens := tok.Encode(text)
	if budget <= 0 || len(tokens) <= budget {
		return []string{tok.Decode(tokens)}
	}

	chunks := make([]string, 0, (len(tokens)+budget-1)/budget)
	for start := 0; start < len(tokens); start += budget {
		end := min(start+budget, len(tokens))
		chunks = append(chunks, tok.Decode(tokens[start:end]))
	}
	return chunks
}
