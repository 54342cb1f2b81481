package api

import (
	"net/http"

	"github.com/MrWong99/talespin/internal/session"
	"github.com/MrWong99/talespin/pkg/story"
)

type openRequest struct {
	Settings story.Settings `json:"settings"`
	Toggles  *story.Toggles `json:"toggles,omitempty"`
}

type actionRequest struct {
	Text        string     `json:"text"`
	Tone        story.Tone `json:"tone,omitempty"`
	KeyDecision string     `json:"key_decision,omitempty"`
}

type togglesRequest struct {
	AgentPrompts   *bool `json:"agent_prompts,omitempty"`
	AutoIllustrate *bool `json:"auto_illustrate,omitempty"`
}

type characterResponse struct {
	Added      bool              `json:"added"`
	Characters []story.Character `json:"characters"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Open(r.Context(), req.Settings, req.Toggles)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sess.View())
}

// session resolves the {id} path value, writing an error response on
// failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Memory())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Start(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Tone.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "api: unknown tone " + string(req.Tone)})
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var opts []session.ActionOption
	if req.Tone != "" {
		opts = append(opts, session.WithTone(req.Tone))
	}
	if req.KeyDecision != "" {
		opts = append(opts, session.WithKeyDecision(req.KeyDecision))
	}
	res, err := sess.SubmitAction(r.Context(), req.Text, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Retry(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddCharacter(w http.ResponseWriter, r *http.Request) {
	var c story.Character
	if !decode(w, r, &c) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	added, err := sess.AddCharacter(c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, characterResponse{Added: added, Characters: sess.View().Roster})
}

func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	var req togglesRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	t, err := sess.UpdateToggles(func(t *story.Toggles) {
		if req.AgentPrompts != nil {
			t.AgentPrompts = *req.AgentPrompts
		}
		if req.AutoIllustrate != nil {
			t.AutoIllustrate = *req.AutoIllustrate
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	purge := r.URL.Query().Get("purge") == "true"
	if err := s.sessions.Close(r.Context(), r.PathValue("id"), purge); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
