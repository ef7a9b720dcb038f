package types

type Tag struct {
	Label      string  `json:"label"`
	Index      int     `json:"index"`
	Confidence float32 `json:"confidence"`
}

// Percent renders the confidence the way it is displayed next to a token.
func (t Tag) Percent() float64 {
	return float64(t.Confidence) * 100
}

// Result is the output of one pipeline run. Tokens, Scores, Embeddings and Tags are index-aligned.
type Result struct {
	Model      string      `json:"model"`
	Tokens     []Token     `json:"tokens"`
	Scores     [][]float32 `json:"scores"`
	Embeddings []Embedding `json:"embeddings"`
	Tags       []Tag       `json:"tags"`
}

func EmptyResult(model string) Result {
	return Result{
		Model:      model,
		Tokens:     []Token{},
		Scores:     [][]float32{},
		Embeddings: []Embedding{},
		Tags:       []Tag{},
	}
}

func (r Result) Len() int {
	return len(r.Tokens)
}
