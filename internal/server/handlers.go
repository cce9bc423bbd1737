package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dungeonarchive/chronicler/internal/session"
	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// Query limits mirror what the frontend form allows.
const (
	minQuestionLen  = 3
	defaultAskLimit = 5
	maxAskLimit     = 20
	snippetLen      = 180
)

// askRequest is the /ask request body.
type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

// contextChunk is the wire form of one retrieved chunk in an /ask response.
type contextChunk struct {
	ChunkID           int64                        `json:"chunk_id"`
	SessionID         string                       `json:"session_id"`
	ChunkIndex        int                          `json:"chunk_index"`
	Transcript        string                       `json:"transcript"`
	CreatedAt         string                       `json:"created_at"`
	TranscriptSnippet string                       `json:"transcript_snippet"`
	MetadataSnippet   string                       `json:"metadata_snippet"`
	WorldStateUpdates []chronicle.WorldStateUpdate `json:"world_state_updates"`
	CharacterEvents   []chronicle.CharacterEvent   `json:"character_events"`
	QuestUpdates      []chronicle.QuestUpdate      `json:"quest_updates"`
	Entities          []chronicle.EntityMention    `json:"entities"`
}

// askResponse is the /ask response body.
type askResponse struct {
	Answer  string         `json:"answer"`
	Context []contextChunk `json:"context"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(strings.TrimSpace(req.Question)) < minQuestionLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("question must be at least %d characters", minQuestionLen))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultAskLimit
	}
	if req.Limit < 1 || req.Limit > maxAskLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAskLimit))
		return
	}

	res, err := s.retriever.Answer(r.Context(), req.Question, req.SessionID, req.Limit)
	if err != nil {
		s.logger.Error("question answering failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	out := askResponse{Answer: res.Answer, Context: make([]contextChunk, 0, len(res.Context))}
	for _, c := range res.Context {
		out.Context = append(out.Context, toContextChunk(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func toContextChunk(c archive.Chunk) contextChunk {
	rec := c.Record
	rec.Normalize()
	return contextChunk{
		ChunkID:           c.ID,
		SessionID:         c.SessionID,
		ChunkIndex:        c.Index,
		Transcript:        c.Transcript,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
		TranscriptSnippet: snippet(c.Transcript),
		MetadataSnippet:   snippet(c.SearchText),
		WorldStateUpdates: rec.WorldStateUpdates,
		CharacterEvents:   rec.CharacterEvents,
		QuestUpdates:      rec.QuestUpdates,
		Entities:          rec.Entities,
	}
}

func (s *Server) handleSessionJSON(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeJSON(w, http.StatusOK, session.Aggregate{Chunks: []chronicle.Record{}})
		return
	}
	writeJSON(w, http.StatusOK, s.log.Snapshot())
}

// recentChunk is the wire form of one /recent entry. Records are not
// hydrated on this path, so only the transcript columns are exposed.
type recentChunk struct {
	ChunkID    int64  `json:"chunk_id"`
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
	Transcript string `json:"transcript"`
	CreatedAt  string `json:"created_at"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultAskLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAskLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAskLimit))
			return
		}
		limit = n
	}

	chunks, err := s.store.RecentChunks(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		s.logger.Error("recent chunks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	out := make([]recentChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, recentChunk{
			ChunkID:    c.ID,
			SessionID:  c.SessionID,
			ChunkIndex: c.Index,
			Transcript: c.Transcript,
			CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// entityEntry is the wire form of one /entities row.
type entityEntry struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.Entities(r.Context())
	if err != nil {
		s.logger.Error("entity listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	out := make([]entityEntry, 0, len(entities))
	for _, e := range entities {
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		out = append(out, entityEntry{
			Name:        e.Name,
			Kind:        e.Kind,
			Description: e.Description,
			Aliases:     aliases,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleModels proxies the Stable Diffusion model list for the UI's
// image-generation panel.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.imageAPIURL+"/sdapi/v1/sd-models", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// generateImageRequest is the /generate-image/ request body, passed through
// to the diffusion backend.
type generateImageRequest struct {
	Prompt   string  `json:"prompt"`
	Model    string  `json:"model,omitempty"`
	Steps    int     `json:"steps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CfgScale float64 `json:"cfg_scale"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	req := generateImageRequest{Steps: 20, Width: 256, Height: 256, CfgScale: 7.0}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if req.Model != "" {
		if err := s.postImageAPI(r.Context(), "/sdapi/v1/options", map[string]string{"sd_model_checkpoint": req.Model}, nil); err != nil {
			writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to set model: %v", err))
			return
		}
	}

	var result struct {
		Images []string `json:"images"`
	}
	if err := s.postImageAPI(r.Context(), "/sdapi/v1/txt2img", req, &result); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(result.Images) == 0 {
		writeError(w, http.StatusBadGateway, "diffusion backend returned no images")
		return
	}
	// Base64 so the UI can render it inline as a data URL.
	writeJSON(w, http.StatusOK, map[string]string{"image": result.Images[0]})
}

// postImageAPI sends a JSON POST to the diffusion backend and decodes the
// response into out when non-nil.
func (s *Server) postImageAPI(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.imageAPIURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("diffusion backend returned %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pingArchive is the readiness probe for the archive backend.
func (s *Server) pingArchive(ctx context.Context) error {
	_, err := s.store.RecentChunks(ctx, "", 1)
	return err
}

// snippet caps text for list views.
func snippet(text string) string {
	if len(text) <= snippetLen {
		return text
	}
	return text[:snippetLen]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
