package vault

import (
	"path"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// Role folders. Classification is purely positional: a note's role is
// derived from its vault-relative path prefix and nothing else. No component
// may infer a role from frontmatter instead.
const (
	ClaimsFolder         = "Claims"
	QuestionsFolder      = "Questions"
	UnderstandingsFolder = "Understandings"
)

// RoleForPath returns the role of the note at the given vault-relative path.
// Non-Markdown files and files outside the three role folders have RoleNone.
func RoleForPath(p string) models.Role {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if !strings.HasSuffix(p, ".md") {
		return models.RoleNone
	}
	switch {
	case strings.HasPrefix(p, ClaimsFolder+"/"):
		return models.RoleClaim
	case strings.HasPrefix(p, QuestionsFolder+"/"):
		return models.RoleQuestion
	case strings.HasPrefix(p, UnderstandingsFolder+"/"):
		return models.RoleUnderstanding
	default:
		return models.RoleNone
	}
}

// FolderForRole returns the vault folder holding notes of the given role,
// or empty string for RoleNone.
func FolderForRole(r models.Role) string {
	switch r {
	case models.RoleClaim:
		return ClaimsFolder
	case models.RoleQuestion:
		return QuestionsFolder
	case models.RoleUnderstanding:
		return UnderstandingsFolder
	default:
		return ""
	}
}
