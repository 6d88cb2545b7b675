package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/vault"
)

// SettingsView is the settings blob exposed over the API. It mirrors what a
// presentation client persists: the remote endpoint plus query/sync toggles.
type SettingsView struct {
	ServerURL            string  `json:"server_url"`
	TopK                 int     `json:"top_k"`
	MinSimilarity        float64 `json:"min_similarity"`
	AutoQuery            bool    `json:"auto_query"`
	AutoSync             bool    `json:"auto_sync"`
	ShowSimilarityScores bool    `json:"show_similarity_scores"`
}

// SettingsAccess reads and persists runtime settings.
type SettingsAccess interface {
	Get() SettingsView
	Update(SettingsView) (SettingsView, error)
}

// StatusResponse aggregates remote health with local daemon state.
type StatusResponse struct {
	Status         string `json:"status"`
	IndexConnected bool   `json:"index_connected"`
	IndexedCount   int    `json:"indexed_count"`
	LedgerCount    int    `json:"ledger_count"`
	PendingPaths   int    `json:"pending_paths"`
	Draining       bool   `json:"draining"`
	Watching       bool   `json:"watching"`
	VaultRoot      string `json:"vault_root"`
}

// Handler holds API route handlers.
type Handler struct {
	store    vault.Provider
	sync     *syncer.Service
	orch     *query.Orchestrator
	client   *transport.Client
	ldb      *ledger.DB
	settings SettingsAccess
	watching bool
	root     string
}

// NewHandler creates a new Handler. ldb may be nil.
func NewHandler(store vault.Provider, sync *syncer.Service, orch *query.Orchestrator, client *transport.Client, ldb *ledger.DB, settings SettingsAccess, watching bool, vaultRoot string) *Handler {
	return &Handler{
		store:    store,
		sync:     sync,
		orch:     orch,
		client:   client,
		ldb:      ldb,
		settings: settings,
		watching: watching,
		root:     vaultRoot,
	}
}

// notePath extracts the note path from the URL (everything after /notes/).
// Supports encoded slashes from API clients (e.g. Questions%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Status handles GET /status: remote health plus local sync state. A remote
// failure degrades the response instead of failing it.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "ok",
		Watching:  h.watching,
		VaultRoot: h.root,
	}

	if health, err := h.client.Health(r.Context()); err == nil {
		resp.IndexConnected = health.IndexConnected
		resp.IndexedCount = health.IndexedInsights
	} else {
		resp.Status = "degraded"
		slog.Warn("status: remote health failed", slog.String("error", err.Error()))
	}

	st := h.sync.Status()
	resp.PendingPaths = st.Pending
	resp.Draining = st.Draining

	if h.ldb != nil {
		if n, err := h.ldb.Count(); err == nil {
			resp.LedgerCount = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListNotes handles GET /notes with an optional role filter
// (?role=claim|question|understanding).
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	roleParam := r.URL.Query().Get("role")

	var dirs []string
	switch roleParam {
	case "":
		dirs = []string{vault.ClaimsFolder, vault.QuestionsFolder, vault.UnderstandingsFolder}
	case models.RoleClaim.Label():
		dirs = []string{vault.ClaimsFolder}
	case models.RoleQuestion.Label():
		dirs = []string{vault.QuestionsFolder}
	case models.RoleUnderstanding.Label():
		dirs = []string{vault.UnderstandingsFolder}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown role"))
		return
	}

	notes := []models.NoteMetadata{}
	for _, dir := range dirs {
		metas, err := h.store.List(dir)
		if err != nil {
			slog.Error("list notes failed", slog.String("dir", dir), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		notes = append(notes, metas...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notes": notes,
		"total": len(notes),
	})
}

// GetNote handles GET /notes/*: the parsed note projection.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := vault.ReadNote(h.store, path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":        note.Path,
		"role":        note.Role.Label(),
		"body":        note.Body,
		"frontmatter": note.Frontmatter,
	})
}

// RunQuery handles POST /query: runs a query for a question note and returns
// the presentation-ready bundle.
func (h *Handler) RunQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}

	res, err := h.orch.Run(r.Context(), req.Path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotQuestion):
			writeJSON(w, http.StatusBadRequest, errorBody("note is not a question"))
		case errors.Is(err, os.ErrNotExist):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CurrentResult handles GET /query/current.
func (h *Handler) CurrentResult(w http.ResponseWriter, r *http.Request) {
	res := h.orch.Current()
	if res == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no query result"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resync handles POST /resync: pushes every understanding note to the
// remote index and reports per-note errors without failing fast.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	// The sweep can outlive an impatient client; don't tie it to r.Context().
	report, err := h.sync.Resync(context.Background())
	if err != nil {
		slog.Error("resync failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetSettings handles GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

// UpdateSettings handles PUT /settings: applies and persists the settings blob.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	updated, err := h.settings.Update(current)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
