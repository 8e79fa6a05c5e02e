package viewer

import (
	"fmt"
	"html"
	"net/http"
)

func (s *Server) debugJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<table><tr><th>id</th><th>status</th><th>progress</th><th>started</th><th>fit</th><th>error</th></tr>")
	for _, job := range s.runner.Jobs() {
		snap := job.Snapshot()
		title := ""
		if out := job.Output(); out != nil {
			title = out.Title()
		}
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%d%%</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			snap.ID, snap.Status, snap.Progress, snap.Started.Format("15:04:05"),
			html.EscapeString(title), html.EscapeString(snap.Error))
	}
	fmt.Fprintln(w, "</table>")
}

func (s *Server) debugSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	sess := s.cache.Current()
	if sess == nil {
		fmt.Fprintln(w, "no session loaded")
		return
	}
	fmt.Fprintf(w, "session:          %s\n", sess.Name())
	fmt.Fprintf(w, "position file:    %s\n", sess.Files.Pos)
	if tf, ok := sess.Files.Tetrode(sess.Tetrode); ok {
		fmt.Fprintf(w, "tetrode file:     %s\n", tf.Tetrode)
		fmt.Fprintf(w, "cut file:         %s\n", tf.Cut)
	}
	fmt.Fprintf(w, "spikes:           %d\n", sess.Spikes)
	fmt.Fprintf(w, "cells:            %v\n", sess.Cells())
	fmt.Fprintf(w, "pixels per metre: %g\n", sess.PixelsPerMetre)
	fmt.Fprintf(w, "position samples: %d at %g Hz\n", sess.Track.Len(), sess.Track.SampleRate)
	fmt.Fprintf(w, "settings:         %+v\n", sess.Settings)
}
