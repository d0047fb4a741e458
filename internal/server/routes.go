// -----------------------------------------------------------------------
// Route table for the control API
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures the HTTP route table.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Job boards
	mux.HandleFunc("/api/job-boards", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.BoardHandler.ListBoardsHandler, s.app.BoardHandler.CreateBoardHandler)
	})
	mux.HandleFunc("/api/job-boards/", s.handleBoardRoutes)

	// Schedules (item routes; creation nests under the board)
	mux.HandleFunc("/api/schedules/", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceItem(w, r, s.app.ScheduleHandler.GetHandler, s.app.ScheduleHandler.UpdateHandler, s.app.ScheduleHandler.DeleteHandler)
	})

	// Jobs
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.StartJobHandler)
	})
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// Runs
	mux.HandleFunc("/api/runs", methodHandler(http.MethodGet, s.app.RunHandler.ListRunsHandler))
	mux.HandleFunc("/api/runs/", methodHandler(http.MethodGet, s.app.RunHandler.GetRunHandler))

	// Normalized catalog feed
	mux.HandleFunc("/api/normalized-jobs", methodHandler(http.MethodGet, s.app.NormalizedHandler.ListHandler))
	mux.HandleFunc("/api/normalized-jobs/", methodHandler(http.MethodGet, s.app.NormalizedHandler.GetHandler))

	// Dashboard
	mux.HandleFunc("/api/dashboard", methodHandler(http.MethodGet, s.app.DashboardHandler.DashboardHandler))

	// Engine control
	mux.HandleFunc("/api/engine/state", methodHandler(http.MethodGet, s.app.EngineHandler.StateHandler))
	mux.HandleFunc("/api/engine/heartbeat", methodHandler(http.MethodPost, s.app.EngineHandler.HeartbeatHandler))
	mux.HandleFunc("/api/engine/pause", methodHandler(http.MethodPost, s.app.EngineHandler.PauseHandler))
	mux.HandleFunc("/api/engine/resume", methodHandler(http.MethodPost, s.app.EngineHandler.ResumeHandler))

	// Settings
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet: s.app.SettingsHandler.GetHandler,
			http.MethodPut: s.app.SettingsHandler.UpdateHandler,
		})
	})
	mux.HandleFunc("/api/settings/reset", methodHandler(http.MethodPost, s.app.SettingsHandler.ResetHandler))
	mux.HandleFunc("/api/settings/test", methodHandler(http.MethodPost, s.app.SettingsHandler.TestHandler))

	// Logs
	mux.HandleFunc("/api/logs", methodHandler(http.MethodGet, s.app.LogsHandler.TailHandler))

	// System
	mux.HandleFunc("/api/version", methodHandler(http.MethodGet, s.app.HealthHandler.VersionHandler))
	mux.Handle("/system/metrics", s.app.Metrics.Handler())

	// Health probes
	mux.HandleFunc("/health", methodHandler(http.MethodGet, s.app.HealthHandler.HealthHandler))
	mux.HandleFunc("/health/live", methodHandler(http.MethodGet, s.app.HealthHandler.LiveHandler))
	mux.HandleFunc("/health/ready", methodHandler(http.MethodGet, s.app.HealthHandler.ReadyHandler))

	// Event stream
	mux.HandleFunc("/ws", s.app.WSHandler.ServeHTTP)

	return mux
}

// handleBoardRoutes dispatches /api/job-boards/{id} and
// /api/job-boards/{id}/schedules.
func (s *Server) handleBoardRoutes(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path)
	switch {
	case len(segments) == 3:
		// /api/job-boards/{id}
		RouteResourceItem(w, r, s.app.BoardHandler.GetBoardHandler, s.app.BoardHandler.UpdateBoardHandler, s.app.BoardHandler.DeleteBoardHandler)
	case len(segments) == 4 && segments[3] == "schedules":
		// /api/job-boards/{id}/schedules
		RouteResourceCollection(w, r, s.app.ScheduleHandler.ListByBoardHandler, s.app.ScheduleHandler.CreateHandler)
	default:
		http.NotFound(w, r)
	}
}

// handleJobRoutes dispatches /api/jobs/{id} and its lifecycle actions.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path)
	switch {
	case len(segments) == 3:
		// /api/jobs/{id}
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.JobHandler.GetJobHandler})
	case len(segments) == 4:
		var handler RouteHandler
		switch segments[3] {
		case "pause":
			handler = s.app.JobHandler.PauseJobHandler
		case "resume":
			handler = s.app.JobHandler.ResumeJobHandler
		case "cancel":
			handler = s.app.JobHandler.CancelJobHandler
		default:
			http.NotFound(w, r)
			return
		}
		RouteByMethod(w, r, MethodRouter{http.MethodPost: handler})
	default:
		http.NotFound(w, r)
	}
}

func pathSegments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}
