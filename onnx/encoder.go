package onnx

import (
	"context"
	"fmt"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/text/unicode/norm"
	"strings"
	"sync"
	"text2phenotype.com/seqtag/types"
)

// encodeBatchSize bounds how many tokens go through one session run.
const encodeBatchSize = 64

// NormalizeText applies NFKC and collapses whitespace before subword tokenization.
func NormalizeText(text string) string {
	return norm.NFKC.String(strings.Join(strings.Fields(text), " "))
}

// Encoder embeds every token independently with a transformer sentence encoder,
// mean pooling its hidden states over the attention mask.
type Encoder struct {
	cfg       types.EmbedderConfig
	session   *session
	mu        sync.Mutex
	tokenizer *tokenizer.Tokenizer
}

// NewEncoder opens the encoder. Model and tokenizer paths in cfg must be local files.
func NewEncoder(cfg types.EmbedderConfig) (*Encoder, error) {
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", cfg.TokenizerPath, err)
	}
	s, err := openSession(cfg.ModelPath, nil, []string{cfg.Output})
	if err != nil {
		return nil, err
	}
	for _, name := range s.inputs {
		if _, ok := knownInputs[name]; !ok {
			s.close()
			return nil, fmt.Errorf("encoder input %q is not supported", name)
		}
	}
	onnxLogger.Info().
		Str("model", cfg.ModelPath).
		Strs("inputs", s.inputs).
		Int("dimension", cfg.Dimension).
		Msg("Encoder session ready")
	return &Encoder{cfg: cfg, session: s, tokenizer: tk}, nil
}

var knownInputs = map[string]struct{}{
	"input_ids":      {},
	"attention_mask": {},
	"token_type_ids": {},
}

func (e *Encoder) Dimension() int {
	return e.cfg.Dimension
}

func (e *Encoder) Embed(ctx context.Context, tokens []types.Token) ([]types.Embedding, error) {
	out := make([]types.Embedding, 0, len(tokens))
	for start := 0; start < len(tokens); start += encodeBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + encodeBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		vectors, err := e.embedChunk(tokens[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Encoder) embedChunk(tokens []types.Token) ([]types.Embedding, error) {
	encoded := make([]encoding, len(tokens))
	e.mu.Lock()
	for i, token := range tokens {
		enc, err := e.tokenizer.EncodeSingle(NormalizeText(token), true)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("tokenizing %q: %w", token, err)
		}
		encoded[i] = newEncoding(enc.Ids, enc.AttentionMask, e.cfg.MaxSeqLen)
	}
	e.mu.Unlock()

	packed := pack(encoded)
	shape := ort.NewShape(int64(len(tokens)), int64(packed.seqLen))
	values := make([]ort.Value, len(e.session.inputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, name := range e.session.inputs {
		var data []int64
		switch name {
		case "input_ids":
			data = packed.ids
		case "attention_mask":
			data = packed.mask
		default:
			data = make([]int64, len(packed.ids))
		}
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("creating %s tensor: %w", name, err)
		}
		values[i] = tensor
	}

	output, err := e.session.run(values)
	if err != nil {
		return nil, err
	}
	defer output.Destroy()
	data, outShape, err := float32Data(output)
	if err != nil {
		return nil, err
	}
	return pool(data, outShape, packed, e.cfg.Dimension)
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.close()
		e.session = nil
	}
	return nil
}

type encoding struct {
	ids  []int64
	mask []int64
}

func newEncoding(ids, mask []int, maxLen int) encoding {
	if maxLen > 0 && len(ids) > maxLen {
		ids = ids[:maxLen]
	}
	enc := encoding{ids: make([]int64, len(ids)), mask: make([]int64, len(ids))}
	for i, id := range ids {
		enc.ids[i] = int64(id)
		enc.mask[i] = 1
		if i < len(mask) {
			enc.mask[i] = int64(mask[i])
		}
	}
	return enc
}

type packedInput struct {
	rows   int
	seqLen int
	ids    []int64
	mask   []int64
}

// pack right-pads encodings with id 0 and mask 0 to the longest one.
func pack(encoded []encoding) packedInput {
	seqLen := 1
	for _, enc := range encoded {
		if len(enc.ids) > seqLen {
			seqLen = len(enc.ids)
		}
	}
	p := packedInput{
		rows:   len(encoded),
		seqLen: seqLen,
		ids:    make([]int64, len(encoded)*seqLen),
		mask:   make([]int64, len(encoded)*seqLen),
	}
	for i, enc := range encoded {
		copy(p.ids[i*seqLen:], enc.ids)
		copy(p.mask[i*seqLen:], enc.mask)
	}
	return p
}

// pool turns encoder output into one vector per row. Rank 3 outputs are mean pooled
// over the attention mask; rank 2 outputs are already pooled.
func pool(data []float32, shape []int64, in packedInput, dim int) ([]types.Embedding, error) {
	switch len(shape) {
	case 2:
		if int(shape[0]) != in.rows || int(shape[1]) != dim {
			return nil, fmt.Errorf("unexpected encoder output shape %v, want [%d %d]", shape, in.rows, dim)
		}
		out := make([]types.Embedding, in.rows)
		for i := range out {
			vec := make(types.Embedding, dim)
			copy(vec, data[i*dim:(i+1)*dim])
			out[i] = vec
		}
		return out, nil
	case 3:
		if int(shape[0]) != in.rows || int(shape[1]) != in.seqLen || int(shape[2]) != dim {
			return nil, fmt.Errorf("unexpected encoder output shape %v, want [%d %d %d]",
				shape, in.rows, in.seqLen, dim)
		}
		out := make([]types.Embedding, in.rows)
		for i := range out {
			vec := make(types.Embedding, dim)
			var count float32
			for j := 0; j < in.seqLen; j++ {
				if in.mask[i*in.seqLen+j] == 0 {
					continue
				}
				base := (i*in.seqLen + j) * dim
				for h := 0; h < dim; h++ {
					vec[h] += data[base+h]
				}
				count++
			}
			if count > 0 {
				for h := range vec {
					vec[h] /= count
				}
			}
			out[i] = vec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected encoder output rank %d", len(shape))
	}
}
