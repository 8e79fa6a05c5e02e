package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/httputil"
	"github.com/banshee-data/cellglm/internal/plotting"
	"github.com/banshee-data/cellglm/internal/security"
	"github.com/banshee-data/cellglm/internal/worker"
)

type indexData struct {
	Root     string
	Sessions []SessionEntry
	Families []glm.Family
	Graphs   []analysis.GraphType
	Family   glm.Family
	Graph    analysis.GraphType
	PPM      float64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := indexData{
		Root:     s.opts.DataRoot,
		Sessions: s.index.Sessions(),
		Families: glm.Families(),
		Graphs:   analysis.GraphTypes(),
		Family:   s.opts.Family,
		Graph:    s.opts.Graph,
		PPM:      s.opts.Settings.PixelsPerMetre,
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", data); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"root":     s.opts.DataRoot,
		"sessions": s.index.Sessions(),
	})
}

type loadSessionRequest struct {
	// Paths are a directory or the individual session files, relative to
	// the data root or absolute inside it.
	Paths   []string `json:"paths"`
	Tetrode int      `json:"tetrode"`
	// PixelsPerMetre overrides the configured value when present.
	PixelsPerMetre *float64 `json:"pixels_per_metre"`
}

type sessionResponse struct {
	Session        string             `json:"session"`
	Files          axona.SessionFiles `json:"files"`
	Tetrode        int                `json:"tetrode"`
	Cells          []int              `json:"cells"`
	Spikes         int                `json:"spikes"`
	PixelsPerMetre float64            `json:"pixels_per_metre"`
	Duration       float64            `json:"duration"`
	Reused         bool               `json:"reused"`
}

func newSessionResponse(sess *analysis.Session, reused bool) sessionResponse {
	return sessionResponse{
		Session:        sess.Name(),
		Files:          sess.Files,
		Tetrode:        sess.Tetrode,
		Cells:          sess.Cells(),
		Spikes:         sess.Spikes,
		PixelsPerMetre: sess.PixelsPerMetre,
		Duration:       sess.Duration,
		Reused:         reused,
	}
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req loadSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	settings := s.opts.Settings
	if req.PixelsPerMetre != nil {
		if *req.PixelsPerMetre <= 0 {
			httputil.BadRequest(w, analysis.ErrNoPixelsPerMetre.Error())
			return
		}
		settings.PixelsPerMetre = *req.PixelsPerMetre
	}

	paths, err := security.ValidateSessionPaths(req.Paths, s.opts.DataRoot)
	if err != nil {
		sessionLoads.WithLabelValues("error").Inc()
		httputil.BadRequest(w, err.Error())
		return
	}
	files, err := axona.DiscoverSession(s.opts.FS, paths)
	if err == nil {
		err = s.checkSessionFiles(files)
	}
	if err != nil {
		sessionLoads.WithLabelValues("error").Inc()
		httputil.BadRequest(w, err.Error())
		return
	}
	tetrode := req.Tetrode
	if tetrode == 0 {
		tetrode = files.Tetrodes[0].Number
	}

	sess, reused, err := s.cache.Load(r.Context(), *files, tetrode, settings)
	if err != nil {
		sessionLoads.WithLabelValues("error").Inc()
		if errors.Is(err, analysis.ErrNoSuchTetrode) || errors.Is(err, analysis.ErrNoPixelsPerMetre) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if reused {
		sessionLoads.WithLabelValues("reused").Inc()
	} else {
		sessionLoads.WithLabelValues("loaded").Inc()
	}
	httputil.WriteJSONOK(w, newSessionResponse(sess, reused))
}

// checkSessionFiles re-validates every discovered file, since a directory
// selection can contain symlinks pointing outside the data root.
func (s *Server) checkSessionFiles(files *axona.SessionFiles) error {
	paths := []string{files.Pos}
	for _, t := range files.Tetrodes {
		paths = append(paths, t.Tetrode, t.Cut)
	}
	for _, p := range paths {
		if err := security.ValidatePathWithinDirectory(p, s.opts.DataRoot); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sess := s.cache.Current()
	if sess == nil {
		httputil.NotFound(w, "no session loaded")
		return
	}
	httputil.WriteJSONOK(w, newSessionResponse(sess, true))
}

type fitRequest struct {
	Cell   int                 `json:"cell"`
	Family *glm.Family         `json:"family"`
	Graph  *analysis.GraphType `json:"graph"`
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var body fitRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sess := s.cache.Current()
	if sess == nil {
		httputil.WriteJSONError(w, http.StatusConflict, "no session loaded")
		return
	}
	if !slices.Contains(sess.Cells(), body.Cell) {
		httputil.BadRequest(w, fmt.Sprintf("%v: %d (available %v)", analysis.ErrNoSuchCell, body.Cell, sess.Cells()))
		return
	}

	req := analysis.Request{Cell: body.Cell, Family: s.opts.Family, Graph: s.opts.Graph}
	if body.Family != nil {
		req.Family = *body.Family
	}
	if body.Graph != nil {
		req.Graph = *body.Graph
	}

	job := s.runner.Submit(s.baseCtx, func(ctx context.Context, progress func(int)) (*analysis.Output, error) {
		start := time.Now()
		out, err := analysis.Compute(ctx, sess, req, progress)
		fitDuration.WithLabelValues(req.Family.Slug()).Observe(time.Since(start).Seconds())
		fitTotal.WithLabelValues(req.Family.Slug(), req.Graph.Slug(), result(err)).Inc()
		return out, err
	})
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"events": "/api/jobs/" + job.ID + "/events",
	})
}

type jobResponse struct {
	Job   worker.Snapshot `json:"job"`
	Title string          `json:"title,omitempty"`
	Fit   *glm.Result     `json:"fit,omitempty"`
	// PseudoR2 is the deviance-based pseudo R squared of the fit.
	PseudoR2 *float64 `json:"pseudo_r2,omitempty"`
	Chart    string   `json:"chart,omitempty"`
	Image    string   `json:"image,omitempty"`
}

// handleJob serves /api/jobs/{id} and /api/jobs/{id}/events.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, events := strings.CutSuffix(rest, "/events")
	job, ok := s.runner.Job(id)
	if !ok {
		httputil.NotFound(w, "unknown job")
		return
	}
	if events {
		s.streamJob(w, r, job)
		return
	}

	resp := jobResponse{Job: job.Snapshot()}
	if out := job.Output(); out != nil {
		r2 := out.Fit.PseudoR2()
		resp.Title = out.Title()
		resp.Fit = out.Fit
		resp.PseudoR2 = &r2
		resp.Chart = "/chart/" + id
		resp.Image = "/plot/" + id + ".png"
	}
	httputil.WriteJSONOK(w, resp)
}

// streamJob sends the job's progress as server-sent events until it
// finishes or the client goes away.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request, job *worker.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before reading the current state so no transition is lost.
	subID, c := s.runner.Subscribe()
	defer s.runner.Unsubscribe(subID)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	send := func(ev worker.Event) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return !ev.Status.Finished()
	}

	if !send(job.Event()) {
		return
	}
	for {
		select {
		case ev, ok := <-c:
			if !ok {
				return
			}
			if ev.JobID != job.ID {
				continue
			}
			if !send(ev) {
				return
			}
		case <-job.Done():
			send(job.Event())
			return
		case <-r.Context().Done():
			return
		}
	}
}

// finishedOutput resolves the trailing path segment to a successful job's
// output, writing the error response when there is none.
func (s *Server) finishedOutput(w http.ResponseWriter, id string) (*analysis.Output, bool) {
	job, ok := s.runner.Job(id)
	if !ok {
		httputil.NotFound(w, "unknown job")
		return nil, false
	}
	out := job.Output()
	if out == nil {
		snap := job.Snapshot()
		msg := fmt.Sprintf("job is %s", snap.Status)
		if snap.Error != "" {
			msg += ": " + snap.Error
		}
		httputil.WriteJSONError(w, http.StatusConflict, msg)
		return nil, false
	}
	return out, true
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out, ok := s.finishedOutput(w, strings.TrimPrefix(r.URL.Path, "/chart/"))
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := plotting.RenderHTML(&buf, out); err != nil {
		http.Error(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/plot/"), ".png")
	out, ok := s.finishedOutput(w, id)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := plotting.WritePNG(&buf, out, plotting.DefaultWidth, plotting.DefaultHeight); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	buf.WriteTo(w)
}

// handleSave writes the job's figure into the output directory.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.OutDir == "" {
		httputil.WriteJSONError(w, http.StatusConflict, "no output directory configured")
		return
	}
	out, ok := s.finishedOutput(w, strings.TrimPrefix(r.URL.Path, "/api/save/"))
	if !ok {
		return
	}

	if err := s.opts.FS.MkdirAll(s.opts.OutDir, 0o755); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	path := filepath.Join(s.opts.OutDir, plotting.ImageName(out))
	if err := security.ValidatePathWithinDirectory(path, s.opts.OutDir); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := plotting.WritePNG(&buf, out, plotting.DefaultWidth, plotting.DefaultHeight); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if err := s.opts.FS.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"path": path})
}
