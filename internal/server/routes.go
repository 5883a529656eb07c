package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and version
	mux.HandleFunc("/healthz", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/v1/version", s.app.APIHandler.VersionHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/v1/jobs", s.handleJobsRoute)  // POST (create)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobRoutes) // GET/DELETE /{id}, GET /{id}/result

	// API routes - Sessions
	mux.HandleFunc("/api/v1/sessions", s.handleSessionsRoute)  // POST (create)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessionRoutes) // GET/DELETE /{id}

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/v1/jobs requests
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/v1/jobs/{id} requests and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/v1/jobs/{id}/result
	if r.Method == "GET" && strings.HasSuffix(path, "/result") {
		s.app.JobHandler.GetJobResultHandler(w, r)
		return
	}

	switch r.Method {
	case "GET":
		s.app.JobHandler.GetJobHandler(w, r)
	case "DELETE":
		s.app.JobHandler.DeleteJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionsRoute routes /api/v1/sessions requests
func (s *Server) handleSessionsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.SessionHandler.CreateSessionHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionRoutes routes /api/v1/sessions/{id} requests
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.SessionHandler.GetSessionHandler(w, r)
	case "DELETE":
		s.app.SessionHandler.DeleteSessionHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
