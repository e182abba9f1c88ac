package dify

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

const (
	blockDelimiter = "data: "
	eventPrefix    = "event:"
)

// Aggregation is the result of folding a streamed body into one answer.
type Aggregation struct {
	// Text is the concatenation of every block's answer, nil when no block
	// carried one.
	Text *string

	// Metadata is the most recent block that still carries a real payload,
	// nil when no block qualified.
	Metadata *ChatMessageResponse

	// Blocks counts decoded blocks; Skipped counts blocks that failed to decode.
	Blocks  int
	Skipped int

	// RemoteErrors holds error texts reported inside successfully decoded blocks.
	RemoteErrors []string
}

// Complete reports whether a conversation-bearing block was found.
func (a *Aggregation) Complete() bool {
	return a.Metadata != nil
}

// Answer combines both passes: the metadata block with its answer replaced by
// the full concatenated text. Without a metadata block only the text is set.
func (a *Aggregation) Answer() *domain.AggregatedAnswer {
	if a.Metadata == nil {
		ans := &domain.AggregatedAnswer{}
		if a.Text != nil {
			ans.Text = *a.Text
		}
		return ans
	}
	ans := a.Metadata.ToAnswer()
	ans.Text = ""
	if a.Text != nil {
		ans.Text = *a.Text
	}
	return ans
}

type decodedBlock struct {
	resp *ChatMessageResponse
	ok   bool
}

// Aggregate parses a streamed body. Blocks are separated by the literal
// "data: "; blocks beginning with "event:" and blocks that are not JSON are
// skipped without affecting the rest of the stream.
func Aggregate(body string) *Aggregation {
	blocks := decodeBlocks(body)
	agg := &Aggregation{}

	var sb strings.Builder
	found := false
	for _, b := range blocks {
		if !b.ok {
			agg.Skipped++
			continue
		}
		agg.Blocks++
		if msg := b.resp.RemoteError(); msg != "" {
			agg.RemoteErrors = append(agg.RemoteErrors, msg)
		}
		if text, ok := b.resp.AnswerText(); ok && text != "" {
			sb.WriteString(text)
			found = true
		}
	}
	if found {
		text := sb.String()
		agg.Text = &text
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if !b.ok || b.resp.ConversationID == nil {
			continue
		}
		if _, ok := b.resp.AnswerText(); b.resp.Event == EventMessageEnd && !ok {
			continue
		}
		agg.Metadata = b.resp
		break
	}

	return agg
}

func decodeBlocks(body string) []decodedBlock {
	parts := strings.Split(body, blockDelimiter)
	blocks := make([]decodedBlock, 0, len(parts))
	for _, part := range parts {
		chunk := strings.TrimSpace(part)
		if chunk == "" || strings.HasPrefix(chunk, eventPrefix) {
			continue
		}
		resp, err := decodeBlock(chunk)
		blocks = append(blocks, decodedBlock{resp: resp, ok: err == nil})
	}
	return blocks
}

// decodeBlock reads the first JSON object of chunk; anything after it, such
// as a trailing "event:" line, is ignored.
func decodeBlock(chunk string) (*ChatMessageResponse, error) {
	dec := json.NewDecoder(strings.NewReader(chunk))
	var resp ChatMessageResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, domain.NewError(domain.ErrorKindParse, "invalid stream block").WithCause(err)
	}
	return &resp, nil
}
