package api

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dunamismax/pagewize/internal/pagewize"
)

const notFoundTemplate = "404"

var contentTemplates = []string{"post", "page", "post_category", notFoundTemplate}

// LoadTemplates parses {name}.html for every content type from dir.
func LoadTemplates(dir string) (*template.Template, error) {
	root := template.New("content")
	for _, name := range contentTemplates {
		path := filepath.Join(dir, name+".html")
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		if _, err := root.New(name).Parse(string(body)); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", path, err)
		}
	}
	return root, nil
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	resp, vars, ok := s.fetchContent(w, r)
	if !ok {
		return
	}

	if resp.Result {
		name, _ := vars["type"].(string)
		if s.templates.Lookup(name) == nil || name == notFoundTemplate {
			s.logger.Printf("unknown content type slug=%s type=%q", r.URL.Path, name)
			s.render(w, http.StatusNotFound, notFoundTemplate, vars)
			return
		}
		s.render(w, http.StatusOK, name, vars)
		return
	}

	if resp.Code >= 400 && resp.Code < 500 {
		s.render(w, resp.Code, notFoundTemplate, vars)
		return
	}
	s.logger.Printf("content lookup failed slug=%s code=%d", r.URL.Path, resp.Code)
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "content unavailable"})
}

// handleComment accepts a comment form posted to a post's own URL.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	resp, vars, ok := s.fetchContent(w, r)
	if !ok {
		return
	}
	if !resp.Result || vars["type"] != "post" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "comments can only be placed on posts"})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form body"})
		return
	}

	comment := pagewize.Comment{
		Name:    r.PostForm.Get("name"),
		Email:   r.PostForm.Get("email"),
		Comment: r.PostForm.Get("comment"),
	}
	if postID, ok := int64Var(vars["id"]); ok {
		comment.PostID = &postID
	}
	if raw := strings.TrimSpace(r.PostForm.Get("parentCommentId")); raw != "" {
		parent, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parentCommentId must be an integer"})
			return
		}
		comment.ParentComment = &parent
	}

	result, err := s.content.AddComment(r.Context(), comment)
	if err != nil {
		if errors.Is(err, pagewize.ErrInvalidArgument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Printf("add comment failed slug=%s err=%v", r.URL.Path, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "comment could not be placed"})
		return
	}

	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) fetchContent(w http.ResponseWriter, r *http.Request) (pagewize.Response, map[string]any, bool) {
	resp, err := s.content.FetchContent(r.Context(), r.URL.Path, r.URL.Query().Get("language"))
	if err != nil {
		if errors.Is(err, pagewize.ErrInvalidArgument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return resp, nil, false
		}
		s.logger.Printf("fetch content failed slug=%s err=%v", r.URL.Path, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "content unavailable"})
		return resp, nil, false
	}

	vars, err := resp.Variables()
	if err != nil {
		s.logger.Printf("decode content failed slug=%s err=%v", r.URL.Path, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "content unavailable"})
		return resp, nil, false
	}
	return resp, vars, true
}

func (s *Server) render(w http.ResponseWriter, status int, name string, vars map[string]any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, vars); err != nil {
		s.logger.Printf("render template failed name=%s err=%v", name, err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func int64Var(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
