package types

import (
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"io/ioutil"
	"sort"
)

const (
	DefaultEmbedderOutput    = "last_hidden_state"
	DefaultEmbedderMaxSeqLen = 64
)

type EmbedderConfig struct {
	ModelPath     string `yaml:"model" json:"model"`
	TokenizerPath string `yaml:"tokenizer" json:"tokenizer"`
	Dimension     int    `yaml:"dimension" json:"dimension"`
	MaxSeqLen     int    `yaml:"max_seq_len" json:"max_seq_len"`
	Output        string `yaml:"output" json:"output"`
	ModelID       string `yaml:"model_id" json:"model_id"`
}

// Catalog maps short tagger names to model locations and describes the shared embedder.
// A location is either a filesystem path or an s3://bucket/key URL.
type Catalog struct {
	Embedder EmbedderConfig    `yaml:"embedder" json:"embedder"`
	Taggers  map[string]string `yaml:"taggers" json:"taggers"`
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Taggers))
	for name := range c.Taggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Catalog) Location(name string) (string, bool) {
	loc, ok := c.Taggers[name]
	return loc, ok && loc != ""
}

func ParseCatalog(buf []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return c, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Embedder.ModelPath == "" {
		return c, errors.New("catalog has no embedder model")
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = EmbeddingDimension
	}
	if c.Embedder.MaxSeqLen == 0 {
		c.Embedder.MaxSeqLen = DefaultEmbedderMaxSeqLen
	}
	if c.Embedder.Output == "" {
		c.Embedder.Output = DefaultEmbedderOutput
	}
	if c.Embedder.ModelID == "" {
		c.Embedder.ModelID = c.Embedder.ModelPath
	}
	if c.Taggers == nil {
		c.Taggers = map[string]string{}
	}
	return c, nil
}

func LoadCatalog(filePath string) (Catalog, error) {
	buf, err := ioutil.ReadFile(filePath)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(buf)
}
