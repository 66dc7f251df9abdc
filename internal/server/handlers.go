package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"comicforge/internal/api"
	"comicforge/internal/auth"
	"comicforge/internal/logging"
	"comicforge/internal/pipeline"
	"comicforge/internal/project"
	"comicforge/internal/services"
)

const maxBodyBytes = 64 << 10

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Wrap(services.ErrValidation, "api", "decode", "request body is required", nil)
		}
		return services.Wrap(services.ErrValidation, "api", "decode", "request body is not valid JSON", err)
	}
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	var body api.GenerateRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	projectID := strings.TrimSpace(body.ProjectID)
	if user.Scoped() && projectID != user.ProjectID {
		s.writeError(w, r, services.Wrap(services.ErrForbidden, "api", "generate", "project tokens cannot start other projects", nil))
		return
	}

	req := pipeline.StartRequest{
		OwnerID:   user.ID,
		ProjectID: projectID,
		Brief: project.Brief{
			Synopsis: strings.TrimSpace(body.StoryDescription),
			Genre:    strings.TrimSpace(body.Genre),
			ArtStyle: strings.TrimSpace(body.ArtStyle),
		},
		TotalPages: body.PageCount,
	}
	if err := s.runner.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	handle, err := s.runner.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logging.WithContext(services.WithProjectID(r.Context(), handle.ProjectID), s.logger).Info(
		"generation started",
		logging.String(logging.FieldRunID, handle.RunID),
		logging.String(logging.FieldEventType, "generation_started"),
		logging.Int("pages", handle.TotalPages),
	)
	s.writeJSON(w, http.StatusCreated, api.GenerateResponse{
		Success:       true,
		ProjectID:     handle.ProjectID,
		RunID:         handle.RunID,
		AccessToken:   handle.AccessToken,
		EstimatedTime: handle.TotalPages * s.secondsPerPage,
		Message:       "Comic generation started",
	})
}

// scopedProject returns the project id of the route when the caller may read
// it at all; a scoped token naming another project is treated as not found.
func scopedProject(r *http.Request, user *auth.User) (string, error) {
	id := strings.TrimSpace(r.PathValue("projectId"))
	if id == "" || !user.CanAccess(id) {
		return "", services.Wrap(services.ErrNotFound, "api", "route", api.ProjectNotFoundMessage, nil)
	}
	return id, nil
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, err := scopedProject(r, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.projections.Progress(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, err := scopedProject(r, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pages := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("pages")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "preview", "pages must be a positive integer", nil))
			return
		}
		pages = n
	}
	out, err := s.projections.Preview(r.Context(), user.ID, id, pages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	list, err := s.projections.List(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user.Scoped() {
		visible := list[:0]
		for _, summary := range list {
			if summary.ID == user.ProjectID {
				visible = append(visible, summary)
			}
		}
		list = visible
	}
	if list == nil {
		list = []api.ProjectSummary{}
	}
	s.writeJSON(w, http.StatusOK, api.ProjectListResponse{Projects: list})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, err := scopedProject(r, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body api.AbortRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	owned, err := s.owners.VerifyProjectOwnership(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrInternal, "api", "abort", "verify ownership", err))
		return
	}
	if !owned {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "abort", api.ProjectNotFoundMessage, nil))
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "aborted by owner"
	}
	if err := s.runner.Abort(r.Context(), id, reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.projections.Progress(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AbortResponse{
		ProjectID: id,
		Aborted:   state.Status == string(project.StageFailed),
		Status:    state.Status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeJSON(w, http.StatusOK, api.DaemonStatus{Running: true, StageCounts: map[string]int{}, StageHealth: []api.StageHealth{}})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}
