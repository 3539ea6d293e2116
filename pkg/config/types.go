package config

// Shared types used across configuration structs.

// FileStorageConfig validates attachments produced by the out-of-core upload
// collaborator; the core never performs uploads itself.
type FileStorageConfig struct {
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty"`
	AllowedMimeTypes  []string `yaml:"allowed_mime_types,omitempty"`
}

// DefaultFileStorageConfig returns the built-in attachment-validation defaults.
func DefaultFileStorageConfig() *FileStorageConfig {
	return &FileStorageConfig{
		MaxFileSizeBytes:  50 * 1024 * 1024,
		AllowedExtensions: []string{".png", ".jpg", ".jpeg", ".gif", ".txt", ".md", ".diff", ".patch"},
		AllowedMimeTypes: []string{
			"image/png", "image/jpeg", "image/gif",
			"text/plain", "text/markdown", "text/x-diff",
		},
	}
}
