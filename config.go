package script

import (
	"os"
	"path/filepath"

	"github.com/Mkas1988/digital-script/llm"
	"github.com/Mkas1988/digital-script/pdfdoc"
)

// Config holds all configuration for the digital-script engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.digital-script/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "digitalscript".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. Options: "home" (default) uses ~/.digital-script/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Blob storage. When BucketURL is set, images and source PDFs live in
	// a remote bucket; otherwise BlobDir selects a local directory store.
	Blob BlobConfig `json:"blob" yaml:"blob"`

	// LLM providers. Chat drives document structuring; when unset the
	// offline heuristic segmenter is used instead. Vision (optional)
	// generates image alt text. Embedding (optional) enables section search.
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Vision    llm.Config `json:"vision" yaml:"vision"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// Image extraction limits.
	Images pdfdoc.ImageOptions `json:"images" yaml:"images"`

	// Embedding dimensions (must match the embedding model).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// BlobConfig configures blob storage for source PDFs and extracted images.
type BlobConfig struct {
	// BucketURL is the base URL of the bucket HTTP API, e.g.
	// "https://storage.example.com/v1/documents". Empty selects the
	// local directory store.
	BucketURL string `json:"bucket_url" yaml:"bucket_url"`

	// APIKey authenticates against the bucket API.
	APIKey string `json:"api_key" yaml:"api_key"`

	// PublicBaseURL is the base under which uploaded objects are publicly
	// reachable. Defaults to BucketURL with "/object/public" appended.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`

	// BlobDir is the root directory of the local store (when BucketURL
	// is empty). Defaults to <StorageDir>/blobs.
	BlobDir string `json:"blob_dir" yaml:"blob_dir"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		DBName:     "digitalscript",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Vision: llm.Config{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Images:       pdfdoc.DefaultImageOptions(),
		EmbeddingDim: 768,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "digitalscript"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".digital-script", name+".db")
	}
}

// resolveBlobDir computes the local blob store root.
func (c *Config) resolveBlobDir() string {
	if c.Blob.BlobDir != "" {
		return c.Blob.BlobDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "blobs"
	}
	return filepath.Join(home, ".digital-script", "blobs")
}
