//go:build onnx

package main

import (
	"os"

	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/embedding"
	"github.com/nimlabs/memoria/embedding/local"
)

func newLocalEmbedder(_ *config.Config) (embedding.Embedder, error) {
	return local.New(local.Config{
		ModelPath:     envOr("LOCAL_EMBEDDING_MODEL_PATH", "./models/all-MiniLM-L6-v2/model.onnx"),
		TokenizerPath: envOr("LOCAL_EMBEDDING_TOKENIZER_PATH", "./models/all-MiniLM-L6-v2/tokenizer.json"),
		Dimensions:    384,
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
