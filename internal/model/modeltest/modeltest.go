// Package modeltest writes a tiny BERT-style checkpoint (ONNX graph,
// WordPiece tokenizer.json, config.json) so tests can run a real
// SentenceModel without downloading pretrained files.
//
// The graph is one residual block over the embeddings:
//
//	x = word_embeddings[input_ids] + token_type_embeddings[token_type_ids]
//	last_hidden_state = x + tanh(x·query.weight + query.bias)
package modeltest

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/hargabyte/stsfit/internal/hub"
	"github.com/hargabyte/stsfit/internal/model"
)

// Shape of the generated encoder.
const (
	Hidden    = 8
	Positions = 32
	Name      = "tiny-bert"
)

// Reserved token ids.
const (
	PadID = 0
	UnkID = 1
	ClsID = 2
	SepID = 3
)

// Initializer names, matching a transformers BERT export.
const (
	WordEmbeddings      = "embeddings.word_embeddings.weight"
	TokenTypeEmbeddings = "embeddings.token_type_embeddings.weight"
	QueryWeight         = "encoder.layer.0.attention.self.query.weight"
	QueryBias           = "encoder.layer.0.attention.self.query.bias"
)

// Vocab maps the lower-cased words of texts to ids after the reserved ones,
// in order of first appearance.
func Vocab(texts ...string) map[string]int {
	vocab := map[string]int{"[PAD]": PadID, "[UNK]": UnkID, "[CLS]": ClsID, "[SEP]": SepID}
	for _, t := range texts {
		for _, w := range strings.Fields(strings.ToLower(t)) {
			if _, ok := vocab[w]; !ok {
				vocab[w] = len(vocab)
			}
		}
	}
	return vocab
}

// NewModel writes a checkpoint into dir and opens it.
func NewModel(dir string, maxSeqLength int, seed uint64, texts ...string) (*model.SentenceModel, error) {
	if err := WriteModel(dir, seed, texts...); err != nil {
		return nil, err
	}
	return model.Open(dir, hub.ModelFile, maxSeqLength)
}

// WriteModel writes model.onnx, tokenizer.json and config.json into dir with
// weights drawn from seed.
func WriteModel(dir string, seed uint64, texts ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	vocab := Vocab(texts...)
	if err := writeJSON(filepath.Join(dir, hub.TokenizerFile), tokenizerJSON(vocab)); err != nil {
		return err
	}
	cfg := map[string]any{
		"_name_or_path":           Name,
		"architectures":           []string{"BertModel"},
		"model_type":              "bert",
		"hidden_size":             Hidden,
		"num_hidden_layers":       1,
		"num_attention_heads":     1,
		"intermediate_size":       Hidden,
		"max_position_embeddings": Positions,
		"type_vocab_size":         2,
		"vocab_size":              len(vocab),
		"pad_token_id":            PadID,
	}
	if err := writeJSON(filepath.Join(dir, hub.ConfigFile), cfg); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, hub.ModelFile), onnxModel(len(vocab), seed), 0644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func tokenizerJSON(vocab map[string]int) map[string]any {
	special := func(id int, content string) map[string]any {
		return map[string]any{
			"id": id, "content": content, "single_word": false, "lstrip": false,
			"rstrip": false, "normalized": false, "special": true,
		}
	}
	return map[string]any{
		"version":    "1.0",
		"truncation": nil,
		"padding":    nil,
		"added_tokens": []any{
			special(PadID, "[PAD]"), special(UnkID, "[UNK]"),
			special(ClsID, "[CLS]"), special(SepID, "[SEP]"),
		},
		"normalizer": map[string]any{
			"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true,
			"strip_accents": false, "lowercase": true,
		},
		"pre_tokenizer": map[string]any{"type": "BertPreTokenizer"},
		"post_processor": map[string]any{
			"type": "BertProcessing",
			"sep":  []any{"[SEP]", SepID},
			"cls":  []any{"[CLS]", ClsID},
		},
		"decoder": map[string]any{"type": "WordPiece", "prefix": "##", "cleanup": true},
		"model": map[string]any{
			"type":                      "WordPiece",
			"unk_token":                 "[UNK]",
			"continuing_subword_prefix": "##",
			"max_input_chars_per_word":  100,
			"vocab":                     vocab,
		},
	}
}

// ONNX protobuf field numbers.
const (
	modelIRVersion   = 1
	modelProducer    = 2
	modelGraph       = 7
	modelOpset       = 8
	opsetVersion     = 2
	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12
	nodeInput        = 1
	nodeOutput       = 2
	nodeName         = 3
	nodeOpType       = 4
	tensorDims       = 1
	tensorDataType   = 2
	tensorName       = 8
	tensorRawData    = 9
	valueName        = 1
	valueType        = 2
	typeTensor       = 1
	tensorElemType   = 1
	tensorShape      = 2
	shapeDim         = 1
	dimValue         = 1
	dimParam         = 2

	onnxFloat = 1
	onnxInt64 = 7
)

type message []byte

func (m message) bytes(num protowire.Number, b []byte) message {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m message) str(num protowire.Number, s string) message {
	return m.bytes(num, []byte(s))
}

func (m message) varint(num protowire.Number, v uint64) message {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, v)
}

func initializer(name string, dims []int, values []float32) message {
	var t message
	for _, d := range dims {
		t = t.varint(tensorDims, uint64(d))
	}
	t = t.varint(tensorDataType, onnxFloat)
	t = t.str(tensorName, name)
	raw := make([]byte, 0, 4*len(values))
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	return t.bytes(tensorRawData, raw)
}

// valueInfo describes a tensor; a negative dim is dynamic and takes its name
// from params.
func valueInfo(name string, elemType uint64, dims []int, params ...string) message {
	var shape message
	for i, d := range dims {
		var dim message
		if d < 0 {
			dim = dim.str(dimParam, params[i])
		} else {
			dim = dim.varint(dimValue, uint64(d))
		}
		shape = shape.bytes(shapeDim, dim)
	}
	tensor := message{}.varint(tensorElemType, elemType).bytes(tensorShape, shape)
	typ := message{}.bytes(typeTensor, tensor)
	return message{}.str(valueName, name).bytes(valueType, typ)
}

func node(name, op string, inputs []string, output string) message {
	var n message
	for _, in := range inputs {
		n = n.str(nodeInput, in)
	}
	return n.str(nodeOutput, output).str(nodeName, name).str(nodeOpType, op)
}

func onnxModel(vocabSize int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	normal := func(n int, scale float64) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = float32(rng.NormFloat64() * scale)
		}
		return v
	}

	var g message
	g = g.bytes(graphNode, node("/embeddings/word_embeddings/Gather", "Gather",
		[]string{WordEmbeddings, "input_ids"}, "/embeddings/word"))
	g = g.bytes(graphNode, node("/embeddings/token_type_embeddings/Gather", "Gather",
		[]string{TokenTypeEmbeddings, "token_type_ids"}, "/embeddings/token_type"))
	g = g.bytes(graphNode, node("/embeddings/Add", "Add",
		[]string{"/embeddings/word", "/embeddings/token_type"}, "/embeddings/output"))
	g = g.bytes(graphNode, node("/encoder/layer.0/attention/self/query/MatMul", "MatMul",
		[]string{"/embeddings/output", QueryWeight}, "/encoder/query/matmul"))
	g = g.bytes(graphNode, node("/encoder/layer.0/attention/self/query/Add", "Add",
		[]string{"/encoder/query/matmul", QueryBias}, "/encoder/query/output"))
	g = g.bytes(graphNode, node("/encoder/layer.0/Tanh", "Tanh",
		[]string{"/encoder/query/output"}, "/encoder/activation"))
	g = g.bytes(graphNode, node("/encoder/layer.0/output/Add", "Add",
		[]string{"/embeddings/output", "/encoder/activation"}, "last_hidden_state"))
	g = g.str(graphName, "main_graph")

	g = g.bytes(graphInitializer, initializer(WordEmbeddings, []int{vocabSize, Hidden}, normal(vocabSize*Hidden, 0.5)))
	g = g.bytes(graphInitializer, initializer(TokenTypeEmbeddings, []int{2, Hidden}, normal(2*Hidden, 0.5)))
	g = g.bytes(graphInitializer, initializer(QueryWeight, []int{Hidden, Hidden}, normal(Hidden*Hidden, 0.5)))
	g = g.bytes(graphInitializer, initializer(QueryBias, []int{Hidden}, normal(Hidden, 0.1)))

	for _, in := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		g = g.bytes(graphInput, valueInfo(in, onnxInt64, []int{-1, -1}, "batch_size", "sequence_length"))
	}
	g = g.bytes(graphOutput, valueInfo("last_hidden_state", onnxFloat, []int{-1, -1, Hidden},
		"batch_size", "sequence_length", ""))

	var m message
	m = m.varint(modelIRVersion, 8)
	m = m.str(modelProducer, "modeltest")
	m = m.bytes(modelGraph, g)
	m = m.bytes(modelOpset, message{}.varint(opsetVersion, 14))
	return m
}
