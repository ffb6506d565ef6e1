// Package hub resolves a pretrained model identifier to local files.
//
// An identifier is either a local directory that already holds the model
// files, or a HuggingFace Hub repository id ("klue/bert-base") whose files are
// downloaded into a cache directory.
package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	hf "github.com/gomlx/go-huggingface/hub"
)

// File names every resolvable model must provide. The ONNX graph may also
// live under OnnxDir, which is where exported Hub repositories keep it.
const (
	ConfigFile    = "config.json"
	TokenizerFile = "tokenizer.json"
	ModelFile     = "model.onnx"
	OnnxDir       = "onnx"
)

// TokenEnv is the environment variable holding an optional Hub access token.
const TokenEnv = "HF_TOKEN"

// ErrModelNotFound is returned when an identifier resolves to neither a usable
// local directory nor a downloadable repository.
var ErrModelNotFound = errors.New("model not found")

// Files are the local paths of a resolved model.
type Files struct {
	ID        string
	Dir       string
	Config    string // empty when the model ships no config.json
	Tokenizer string
	Model     string
}

// Resolver turns identifiers into Files.
type Resolver struct {
	// CacheDir is where downloads are stored; empty uses the library default.
	CacheDir string
	// Token authenticates Hub downloads; empty falls back to $HF_TOKEN.
	Token string
}

// Resolve returns the local files for id, downloading them if necessary.
func (r Resolver) Resolve(ctx context.Context, id string) (*Files, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty model identifier", ErrModelNotFound)
	}

	if info, err := os.Stat(id); err == nil && info.IsDir() {
		return fromDir(id)
	}

	return r.download(ctx, id)
}

// fromDir validates a local model directory.
func fromDir(dir string) (*Files, error) {
	files := &Files{
		ID:        dir,
		Dir:       dir,
		Tokenizer: filepath.Join(dir, TokenizerFile),
	}
	if _, err := os.Stat(files.Tokenizer); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelNotFound, dir, err)
	}
	for _, p := range []string{filepath.Join(dir, ModelFile), filepath.Join(dir, OnnxDir, ModelFile)} {
		if fileExists(p) {
			files.Model = p
			break
		}
	}
	if files.Model == "" {
		return nil, fmt.Errorf("%w: %s: no %s", ErrModelNotFound, dir, ModelFile)
	}
	if cfg := filepath.Join(dir, ConfigFile); fileExists(cfg) {
		files.Config = cfg
	}
	return files, nil
}

func (r Resolver) download(ctx context.Context, id string) (*Files, error) {
	token := r.Token
	if token == "" {
		token = os.Getenv(TokenEnv)
	}

	repo := hf.New(id)
	if token != "" {
		repo = repo.WithAuth(token)
	}
	if r.CacheDir != "" {
		repo = repo.WithCacheDir(r.CacheDir)
	}

	files := &Files{ID: id}
	for _, name := range []string{TokenizerFile, ConfigFile} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := repo.DownloadFile(name)
		if err != nil {
			if name == ConfigFile {
				continue
			}
			return nil, fmt.Errorf("%w: %s: download %s: %v", ErrModelNotFound, id, name, err)
		}
		if name == TokenizerFile {
			files.Tokenizer = path
		} else {
			files.Config = path
		}
	}

	var errs []error
	for _, name := range []string{OnnxDir + "/" + ModelFile, ModelFile} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := repo.DownloadFile(name)
		if err == nil {
			files.Model = path
			break
		}
		errs = append(errs, err)
	}
	if files.Model == "" {
		return nil, fmt.Errorf("%w: %s: download %s: %v", ErrModelNotFound, id, ModelFile, errors.Join(errs...))
	}
	files.Dir = filepath.Dir(files.Tokenizer)

	return files, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
