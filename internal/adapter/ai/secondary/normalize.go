package secondary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// replyQuery picks the reply out of a /chat body: answer, then reply, then the
// whole document.
const replyQuery = `if type == "object" then (if .answer != null then .answer elif .reply != null then .reply else . end) else . end`

type replyNormalizer struct {
	code *gojq.Code
}

func mustReplyNormalizer() *replyNormalizer {
	q, err := gojq.Parse(replyQuery)
	if err != nil {
		panic(fmt.Sprintf("secondary: parse reply query: %v", err))
	}
	code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		panic(fmt.Sprintf("secondary: compile reply query: %v", err))
	}
	return &replyNormalizer{code: code}
}

// normalize turns a /chat body into reply text. Bodies that are not JSON are
// returned verbatim; non-string selections are JSON encoded.
func (n *replyNormalizer) normalize(ctx context.Context, raw []byte) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: empty body", ErrMalformed)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return text, nil
	}
	iter := n.code.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("%w: no reply", ErrMalformed)
	}
	if err, isErr := v.(error); isErr {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var reply string
	switch s := v.(type) {
	case string:
		reply = s
	case nil:
		return "", fmt.Errorf("%w: null reply", ErrMalformed)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		reply = string(b)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrMalformed)
	}
	return reply, nil
}
