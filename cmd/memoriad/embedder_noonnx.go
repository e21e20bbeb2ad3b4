//go:build !onnx

package main

import (
	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/embedding"
	"github.com/nimlabs/memoria/errs"
)

// newLocalEmbedder is unavailable in the default build: the
// local-transformer variant requires the onnx build tag and its
// native runtime dependency.
func newLocalEmbedder(_ *config.Config) (embedding.Embedder, error) {
	return nil, errs.New(errs.KindConfigInvalid, "local-transformer requires building with -tags onnx")
}
