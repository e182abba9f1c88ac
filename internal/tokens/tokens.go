// Package tokens estimates token counts for text recorded on audit records.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken encoding.
// The codec is loaded on first use.
type TiktokenCounter struct {
	encoding tokenizer.Encoding

	once     sync.Once
	codec    tokenizer.Codec
	loadErr  error
	fallback *Estimator
}

// NewTiktokenCounter creates a counter for encoding. An empty encoding
// selects cl100k_base.
func NewTiktokenCounter(encoding tokenizer.Encoding) *TiktokenCounter {
	if encoding == "" {
		encoding = tokenizer.Cl100kBase
	}
	return &TiktokenCounter{
		encoding: encoding,
		fallback: NewEstimator(),
	}
}

func (c *TiktokenCounter) load() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.loadErr = tokenizer.Get(c.encoding)
		if c.loadErr != nil {
			c.loadErr = fmt.Errorf("failed to get tokenizer encoding: %w", c.loadErr)
		}
	})
	return c.codec, c.loadErr
}

// CountText returns the exact token count of text.
func (c *TiktokenCounter) CountText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	codec, err := c.load()
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Count returns the token count of text, estimating when the encoder fails.
func (c *TiktokenCounter) Count(text string) int {
	n, err := c.CountText(text)
	if err != nil {
		return c.fallback.Count(text)
	}
	return n
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// Count estimates the token count. Any non-empty text counts as at least one token.
func (e *Estimator) Count(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	n := int(float64(chars) / e.CharsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}
