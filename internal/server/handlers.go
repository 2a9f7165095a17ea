package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	archiveFileName = "website_assets.zip"
	crawlFailureMsg = "Error downloading assets. Please check the URL and try again."
)

const indexPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Site Archiver</title></head>
<body>
<h1>Download website assets</h1>
<form method="post" action="/">
<label>URL <input type="url" name="url" required></label>
<label>Max pages <input type="number" name="max_pages" min="1" value="%d"></label>
<button type="submit">Download</button>
</form>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, indexPage, s.config.MaxPages())
}

func (s *Server) handleArchiveRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	startURL := strings.TrimSpace(r.PostFormValue("url"))
	pageBudget := s.config.MaxPages()
	if raw := strings.TrimSpace(r.PostFormValue("max_pages")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.respondWithError(w, http.StatusBadRequest, "max_pages must be a positive integer")
			return
		}
		pageBudget = parsed
	}

	// the request context is cancelled when the client goes away
	execution, err := s.crawler.Crawl(r.Context(), startURL, pageBudget)
	if err != nil {
		s.logger.Warn("crawl failed",
			zap.String("url", startURL),
			zap.Int("max_pages", pageBudget),
			zap.Error(err),
		)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(crawlFailureMsg))
		return
	}

	s.logger.Info("crawl served",
		zap.String("url", startURL),
		zap.Int("pages", execution.PagesArchived()),
		zap.Int("assets", execution.AssetsArchived()),
		zap.Int("warnings", len(execution.Warnings())),
	)

	archive := execution.Archive()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveFileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.Header().Set("X-Crawl-Pages", strconv.Itoa(execution.PagesArchived()))
	w.Header().Set("X-Crawl-Warnings", strconv.Itoa(len(execution.Warnings())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
