package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/session"
	"github.com/agentbridge/agentbridge/pkg/types"
)

// createSessionRequest is the body for POST /session.
type createSessionRequest struct {
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Isolated         bool   `json:"isolated,omitempty"`
	Branch           string `json:"branch,omitempty"`
	Model            string `json:"model,omitempty"`
}

// listSessions handles GET /session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

// createSession handles POST /session.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess, err := s.registry.Create(r.Context(), agent.Options{
		WorkingDirectory: req.WorkingDirectory,
		Isolated:         req.Isolated,
		Branch:           req.Branch,
		Model:            req.Model,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeRuntimeError, err.Error())
		return
	}
	// The HTTP surface holds no long-lived reference; idle reclaim owns
	// the lifetime from here.
	s.registry.Release(sess.ID())

	writeJSON(w, http.StatusCreated, sess.Info())
}

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// deleteSession handles DELETE /session/{sessionID}.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.registry.Delete(chi.URLParam(r, "sessionID"))
	writeSuccess(w)
}

// getHistory handles GET /session/{sessionID}/history.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.ChatHistory())
}

// sendMessageRequest is the body for POST /session/{sessionID}/message.
type sendMessageRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// sendMessage handles POST /session/{sessionID}/message. The response is
// an SSE stream of UI operations; closing the connection cancels the
// request and aborts the runtime.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.GetOrCreate(r.Context(), id, agent.Options{Model: req.Model})
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeRuntimeError, err.Error())
		return
	}
	defer s.registry.Release(id)

	// Reject before committing to an SSE response so the client gets a
	// proper status code. A request sneaking in after this check still
	// surfaces as a busy error on the "done" frame.
	if sess.Status() == types.StatusInProgress {
		writeError(w, http.StatusConflict, ErrCodeSessionBusy, "session is busy")
		return
	}

	sse, err := startSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	reqErr := sess.HandleRequest(r.Context(), agent.Prompt{Text: req.Text}, req.Model, &opStream{sse: sse})

	done := map[string]any{"status": sess.Status()}
	switch {
	case errors.Is(reqErr, session.ErrBusy):
		done["error"] = "session is busy"
	case reqErr != nil:
		done["error"] = reqErr.Error()
	}
	sse.writeEvent("done", done)
}

// setModelRequest is the body for PUT /session/{sessionID}/model.
type setModelRequest struct {
	Model string `json:"model"`
}

// setModel handles PUT /session/{sessionID}/model.
func (s *Server) setModel(w http.ResponseWriter, r *http.Request) {
	var req setModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "model is required")
		return
	}

	sess, ok := s.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if err := sess.SetModel(r.Context(), req.Model); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeRuntimeError, err.Error())
		return
	}
	writeSuccess(w)
}

// respondPermissionRequest is the body for POST /permission/{permissionID}.
type respondPermissionRequest struct {
	Granted bool `json:"granted"`
}

// respondPermission handles POST /permission/{permissionID}.
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	var req respondPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	s.broker.Respond(chi.URLParam(r, "permissionID"), req.Granted)
	writeSuccess(w)
}
