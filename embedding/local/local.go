//go:build onnx

// Package local implements the "local-transformer" embedding variant:
// an in-process multilingual sentence encoder run through ONNX
// Runtime. It is gated behind the onnx build tag so the default build
// carries no native-library dependency; building with -tags onnx
// requires a shared libonnxruntime available at OnnxLibraryPath (or
// the runtime's own default search path).
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nimlabs/memoria/embedding"
)

// bertTokenizer handles BERT-style WordPiece tokenization against a
// vocabulary loaded from a tokenizer.json file.
type bertTokenizer struct {
	vocab     map[string]int
	clsToken  int
	sepToken  int
	unkToken  int
}

// Config configures the local transformer embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string
	// Dimensions is the embedding vector size (default 384, matching
	// all-MiniLM-L6-v2-class encoders).
	Dimensions int
	// OnnxLibraryPath optionally overrides where ort looks for
	// libonnxruntime. Empty uses the runtime's own default.
	OnnxLibraryPath string
	// MaxSequenceLength caps tokens per input (default 128).
	MaxSequenceLength int
}

// Embedder generates embeddings by running a BERT-family encoder
// through ONNX Runtime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *bertTokenizer
	dimensions int
	maxLen     int
}

// New loads the tokenizer and ONNX session described by cfg. The model
// is expected to have been downloaded once ahead of time; fetching it
// is an external collaborator's concern, not this adapter's.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("local embedder: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	if cfg.OnnxLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.OnnxLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("local embedder: initialize ONNX runtime: %w", err)
	}

	tokenizer, err := loadBERTTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("local embedder: load tokenizer: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("local embedder: create ONNX session: %w", err)
	}

	log.Printf("[EMBEDDING] local-transformer ready: model=%s dims=%d", cfg.ModelPath, cfg.Dimensions)

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := e.tokenizer.tokenize(text)

	inputIDs := make([]int64, e.maxLen)
	attentionMask := make([]int64, e.maxLen)
	tokenTypeIDs := make([]int64, e.maxLen)

	inputIDs[0] = int64(e.tokenizer.clsToken)
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > e.maxLen-2 {
		tokenLen = e.maxLen - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	endPos := tokenLen + 1
	inputIDs[endPos] = int64(e.tokenizer.sepToken)
	attentionMask[endPos] = 1

	shape := ort.NewShape(1, int64(e.maxLen))
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("local embedder: input_ids tensor: %w", err)
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("local embedder: attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("local embedder: token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDsTensor.Destroy()

	inputTensors := []ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}
	outputTensors := []ort.Value{nil}

	if err := e.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("local embedder: inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputTensors {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	if len(outputTensors) == 0 || outputTensors[0] == nil {
		return nil, fmt.Errorf("local embedder: no output tensor")
	}
	outputTensor, ok := outputTensors[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("local embedder: unexpected output tensor type")
	}

	outputData := outputTensor.GetData()
	outputShape := outputTensor.GetShape()

	var vec []float32
	switch len(outputShape) {
	case 2:
		if len(outputData) < e.dimensions {
			return nil, fmt.Errorf("local embedder: output dimension mismatch: got %d, want %d", len(outputData), e.dimensions)
		}
		vec = make([]float32, e.dimensions)
		copy(vec, outputData[:e.dimensions])
	case 3:
		seqLen := int(outputShape[1])
		hiddenSize := int(outputShape[2])
		if hiddenSize != e.dimensions {
			return nil, fmt.Errorf("local embedder: hidden size mismatch: got %d, want %d", hiddenSize, e.dimensions)
		}
		vec = make([]float32, e.dimensions)
		attended := float32(0)
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hiddenSize
			for j := 0; j < hiddenSize; j++ {
				vec[j] += outputData[offset+j]
			}
		}
		if attended > 0 {
			for j := range vec {
				vec[j] /= attended
			}
		}
	default:
		return nil, fmt.Errorf("local embedder: unexpected output shape %v", outputShape)
	}

	return embedding.Normalize(vec), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Variant() embedding.Variant { return embedding.VariantLocalTransformer }

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func loadBERTTokenizer(path string) (*bertTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return &bertTokenizer{
		vocab:    parsed.Model.Vocab,
		clsToken: 101,
		sepToken: 102,
		unkToken: 100,
	}, nil
}

func (t *bertTokenizer) tokenize(text string) []int64 {
	text = strings.ToLower(text)
	words := strings.Fields(text)

	var tokens []int64
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, sub := range t.wordPiece(word) {
			if id, ok := t.vocab[sub]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

func (t *bertTokenizer) wordPiece(word string) []string {
	if word == "" {
		return nil
	}
	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr
			}
			if _, ok := t.vocab[substr]; ok {
				subwords = append(subwords, substr)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}
	return subwords
}
