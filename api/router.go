package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/emilyzhang/revisit/crawlerdb"
	"github.com/emilyzhang/revisit/graphcrawler"
)

// router routes requests to the correct handler.
func (s *Server) router(w http.ResponseWriter, req *http.Request) {
	s.Logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("New request")
	switch {
	case req.URL.Path == "/crawl" && req.Method == http.MethodPost:
		s.createHandler(w, req)
	case req.URL.Path == "/status" && req.Method == http.MethodGet:
		s.statusHandler(w, req)
	case req.URL.Path == "/pages" && req.Method == http.MethodGet:
		s.pageHandler(w, req)
	default:
		s.writeError(w, http.StatusNotFound, "Not a valid endpoint: "+req.URL.Path)
	}
}

type crawlRequest struct {
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
}

// createHandler enqueues a forced crawl task, the same way the command line
// does for "<url> [pattern]".
func (s *Server) createHandler(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var cr crawlRequest
	if err := json.Unmarshal(body, &cr); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	u, err := url.Parse(cr.URL)
	if err != nil || !u.IsAbs() {
		s.writeError(w, http.StatusBadRequest, "url must be absolute: "+cr.URL)
		return
	}

	pattern := ""
	if cr.Pattern != "" {
		pattern, err = graphcrawler.ResolvePattern(cr.URL, cr.Pattern)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.db.EnqueueTask(req.Context(), cr.URL, pattern, true); err != nil {
		s.Logger.Error().Err(err).Str("url", cr.URL).Msg("Unable to enqueue crawl")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, crawlRequest{URL: cr.URL, Pattern: pattern})
}

type statusResponse struct {
	Queued int `json:"queued"`
	Pages  int `json:"pages"`
}

// statusHandler reports queue length and page count.
func (s *Server) statusHandler(w http.ResponseWriter, req *http.Request) {
	queued, err := s.db.QueueLength(req.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pages, err := s.db.PageCount(req.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Queued: queued, Pages: pages})
}

type pageResponse struct {
	URL            string     `json:"url"`
	Accessed       string     `json:"accessed"`
	ContentType    string     `json:"content_type"`
	ContentLength  *int64     `json:"content_length"`
	Status         int        `json:"status"`
	ResponseTime   float64    `json:"response_time"`
	ValidationType string     `json:"validation_type"`
	Valid          bool       `json:"valid"`
	Links          []linkJSON `json:"links"`
}

type linkJSON struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// pageHandler returns the stored metadata and outbound links of one page.
func (s *Server) pageHandler(w http.ResponseWriter, req *http.Request) {
	pageURL := req.URL.Query().Get("url")
	if pageURL == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	page, err := s.db.GetPage(req.Context(), pageURL)
	if errors.Is(err, crawlerdb.ErrDoesNotExist) {
		s.writeError(w, http.StatusNotFound, "There is no page with this url: "+pageURL)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	edges, err := s.db.EdgesFrom(req.Context(), pageURL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := pageResponse{
		URL:            page.URL,
		Accessed:       page.Accessed.UTC().Format(time.RFC3339),
		ContentType:    page.ContentType,
		Status:         page.Status,
		ResponseTime:   page.ResponseTime,
		ValidationType: page.ValidationType,
		Valid:          page.Valid,
		Links:          make([]linkJSON, 0, len(edges)),
	}
	if page.ContentLength.Valid {
		n := page.ContentLength.Int64
		resp.ContentLength = &n
	}
	for _, e := range edges {
		resp.Links = append(resp.Links, linkJSON{URL: e.ToURL, Type: e.Type})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error().Err(err).Msg("Unable to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
