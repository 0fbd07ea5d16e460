package embedding

import (
	"context"

	"github.com/mohammad-safakhou/researcher/provider"
)

// batchSize caps how many texts go to the backend per request
const batchSize = 96

// Embedding batches embedding requests through the model invoker
type Embedding struct {
	invoker provider.Invoker
	model   string
}

func NewEmbedding(invoker provider.Invoker, model string) *Embedding {
	return &Embedding{invoker: invoker, model: model}
}

// EmbedMany returns one vector per input text, in input order
func (e *Embedding) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.invoker.Embed(ctx, e.model, texts[start:end])
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}
