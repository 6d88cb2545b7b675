// Package models defines the domain types for Ansuz.
package models

import "time"

// Role classifies a note by its position in the vault.
type Role int

const (
	// RoleNone marks a note outside the three role folders.
	RoleNone Role = iota
	// RoleClaim is a note recording a current assertion or hypothesis.
	RoleClaim
	// RoleQuestion is a note recording an unresolved open question.
	RoleQuestion
	// RoleUnderstanding is a note recording reconstructed understanding.
	// Understanding notes are the only role synchronized to the remote index.
	RoleUnderstanding
)

// Label returns the display label for a role.
func (r Role) Label() string {
	switch r {
	case RoleClaim:
		return "claim"
	case RoleQuestion:
		return "question"
	case RoleUnderstanding:
		return "understanding"
	default:
		return "none"
	}
}

// Frontmatter is the typed header of a note. Only the recognized keys
// populate fields; everything else lands in Extra. Raw holds the full decoded
// mapping as sent to the remote index (nil when the note has no header).
type Frontmatter struct {
	Type       string   `json:"type,omitempty"`
	Created    string   `json:"created,omitempty"`
	Status     string   `json:"status,omitempty"`
	Trigger    string   `json:"trigger,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
	Source     string   `json:"source,omitempty"`
	Related    []string `json:"related,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	Extra map[string]any `json:"-"`
	Raw   map[string]any `json:"-"`
}

// Note is a transient read projection of a vault file. It is re-derived on
// every access and never cached.
type Note struct {
	Path        string      `json:"path"`
	Body        string      `json:"body"`
	Frontmatter Frontmatter `json:"frontmatter"`
	Role        Role        `json:"-"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetrievedInsight is one related understanding returned by the remote index.
// Immutable once returned.
type RetrievedInsight struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Similarity  float64        `json:"similarity"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// QuestionType enumerates the kinds of generated comparison questions.
type QuestionType string

const (
	QuestionMemoryInvoke   QuestionType = "memory_invoke"
	QuestionConflictDetect QuestionType = "conflict_detect"
	QuestionAmplify        QuestionType = "amplify"
)

// Label returns the display label for a question type. Unknown wire values
// fall back to the amplify label so presentation never breaks on new types.
func (t QuestionType) Label() string {
	switch t {
	case QuestionMemoryInvoke:
		return "Memory"
	case QuestionConflictDetect:
		return "Conflict"
	case QuestionAmplify:
		return "Amplify"
	default:
		return "Amplify"
	}
}

// ComparisonQuestion is a generated reflective question. Quote and
// InsightReference are set only when the question anchors to a specific
// retrieved understanding.
type ComparisonQuestion struct {
	Type             QuestionType `json:"type"`
	Question         string       `json:"question"`
	Quote            string       `json:"quote,omitempty"`
	InsightReference string       `json:"insight_reference,omitempty"`
}

// TokenUsage is the opaque accounting value returned by the generation call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}
