// Package viewer serves the browser front end: session selection, cell
// and model choice, background fits with live progress and the resulting
// plots.
package viewer

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/monitoring"
	"github.com/banshee-data/cellglm/internal/timeutil"
	"github.com/banshee-data/cellglm/internal/worker"
)

// Options configures a Server.
type Options struct {
	// DataRoot bounds every session path a client may select.
	DataRoot string
	// OutDir receives saved figures.
	OutDir   string
	Settings analysis.Settings
	// Family and Graph preselect the index page controls.
	Family glm.Family
	Graph  analysis.GraphType
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Clock defaults to the wall clock.
	Clock     timeutil.Clock
	Templates TemplateProvider
}

// Server is the viewer's HTTP surface.
type Server struct {
	opts      Options
	cache     *analysis.SessionCache
	runner    *worker.Runner
	index     *SessionIndex
	templates TemplateProvider

	// baseCtx outlives requests so jobs keep running after POST /api/fit
	// returns.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates a server and indexes the data root.
func NewServer(opts Options) *Server {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Templates == nil {
		opts.Templates = NewEmbeddedTemplateProvider(templateFS, "templates")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:      opts,
		cache:     &analysis.SessionCache{FS: opts.FS},
		runner:    worker.NewRunner(opts.Clock),
		index:     NewSessionIndex(opts.FS, opts.DataRoot),
		templates: opts.Templates,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// ServeMux registers the viewer routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/session", s.handleLoadSession)
	mux.HandleFunc("/api/cells", s.handleCells)
	mux.HandleFunc("/api/fit", s.handleFit)
	mux.HandleFunc("/api/jobs/", s.handleJob)
	mux.HandleFunc("/api/save/", s.handleSave)
	mux.HandleFunc("/chart/", s.handleChart)
	mux.HandleFunc("/plot/", s.handlePlot)
	mux.Handle("/metrics", promhttp.Handler())
	s.attachDebugRoutes(mux)
	return mux
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

// Close cancels the running fit.
func (s *Server) Close() {
	s.runner.Stop()
	s.cancel()
}

// Run serves on addr until ctx is done, refreshing the session index as
// files change under the data root.
func (s *Server) Run(ctx context.Context, addr string) error {
	defer s.Close()

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.index.Watch(ctx); err != nil {
			monitoring.Logf("session index watcher stopped: %v", err)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("viewer listening on %s, data root %s", addr, s.opts.DataRoot)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down viewer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("viewer shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("viewer force close error: %v", err)
		}
	}
	return nil
}

func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("jobs", "background fits", s.debugJobs)
	debug.HandleFunc("session", "loaded session", s.debugSession)
	debug.HandleSilentFunc("reindex", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.index.Refresh()
		w.Write([]byte("reindexed\n"))
	})
}
