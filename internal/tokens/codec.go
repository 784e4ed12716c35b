package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// codecs caches tokenizer codecs by encoding for the life of the process.
// Codecs are immutable once built, so sharing them needs no further locking.
var codecs = struct {
	sync.RWMutex
	m map[tokenizer.Encoding]tokenizer.Codec
}{m: make(map[tokenizer.Encoding]tokenizer.Codec)}

// codecFor returns the codec for enc, loading it on first use.
func codecFor(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	codecs.RLock()
	if c, ok := codecs.m[enc]; ok {
		codecs.RUnlock()
		return c, nil
	}
	codecs.RUnlock()

	codecs.Lock()
	defer codecs.Unlock()

	// Double-check after acquiring write lock
	if c, ok := codecs.m[enc]; ok {
		return c, nil
	}

	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding %s: %w", enc, err)
	}
	codecs.m[enc] = c
	return c, nil
}

// tally accumulates token counts and keeps the first encoding error.
type tally struct {
	codec tokenizer.Codec
	total int
	err   error
}

func (t *tally) add(n int) {
	t.total += n
}

func (t *tally) text(s string) {
	if t.err != nil || s == "" {
		return
	}
	ids, _, err := t.codec.Encode(s)
	if err != nil {
		t.err = fmt.Errorf("encode text: %w", err)
		return
	}
	t.total += len(ids)
}
