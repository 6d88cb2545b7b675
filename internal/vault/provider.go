// Package vault provides access to the notes vault: file storage, role
// classification, and frontmatter parsing.
package vault

import "github.com/starford/ansuz/internal/models"

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
}

// ReadNote reads and parses the note at path into a transient projection.
// The role is re-derived from the path on every call.
func ReadNote(p Provider, path string) (*models.Note, error) {
	data, err := p.Read(path)
	if err != nil {
		return nil, err
	}
	fm, body := ParseFrontmatter(data)
	return &models.Note{
		Path:        path,
		Body:        body,
		Frontmatter: fm,
		Role:        RoleForPath(path),
	}, nil
}
