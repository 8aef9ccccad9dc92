// Package web serves the interactive upload page and a small JSON API in
// front of the pipeline.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/pipeline"
	"github.com/loqalabs/loqa-s2s/internal/stt"
)

//go:embed templates/*.html
var templateFS embed.FS

const outputRoute = "/outputs/"

type Server struct {
	cfg       config.WebConfig
	orch      *pipeline.Orchestrator
	tmpl      *template.Template
	uploadDir string
	outputDir string
	ttl       time.Duration
	logger    *slog.Logger
}

func New(cfg config.WebConfig, orch *pipeline.Orchestrator, logger *slog.Logger) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		tmpl:      tmpl,
		uploadDir: cfg.UploadDir,
		outputDir: cfg.OutputDir,
		ttl:       cfg.OutputTTLDuration(),
		logger:    logger.With(slog.String("component", "web")),
	}
	if s.uploadDir == "" {
		s.uploadDir = os.TempDir()
	}
	if s.outputDir == "" {
		s.outputDir = filepath.Join(os.TempDir(), "loqa-s2s-outputs")
	}
	for _, dir := range []string{s.uploadDir, s.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Routes returns the HTTP handler for the interactive surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/translate", s.handleTranslateForm)
	r.Get(outputRoute+"{name}", s.handleOutput)
	r.Route("/api", func(r chi.Router) {
		r.Get("/languages", s.handleLanguages)
		r.Post("/translate", s.handleTranslateAPI)
	})
	return r
}

type pageData struct {
	Languages  []language.Language
	Sizes      []stt.ModelSize
	Source     language.Code
	Target     language.Code
	Size       stt.ModelSize
	Error      string
	Result     *pipeline.Result
	SourceName string
	TargetName string
	OutputURL  string
}

func (s *Server) page() pageData {
	return pageData{
		Languages: s.orch.Registry().Languages(),
		Sizes:     stt.Sizes(),
		Source:    "hi",
		Target:    language.English,
		Size:      stt.DefaultSize,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.page())
}

func (s *Server) handleTranslateForm(w http.ResponseWriter, r *http.Request) {
	data := s.page()
	res, form, err := s.translate(w, r)
	if form.source != "" {
		data.Source, data.Target, data.Size = form.source, form.target, form.size
	}
	if err != nil {
		data.Error = err.Error()
		s.render(w, statusFor(err), data)
		return
	}
	data.Result = &res
	data.SourceName, _ = s.orch.Registry().DisplayName(form.source)
	data.TargetName, _ = s.orch.Registry().DisplayName(form.target)
	data.OutputURL = outputRoute + filepath.Base(res.OutputPath)
	s.render(w, http.StatusOK, data)
}

type apiResult struct {
	RequestID        string `json:"request_id"`
	Source           string `json:"source"`
	Target           string `json:"target"`
	Route            string `json:"route"`
	SourceText       string `json:"source_text"`
	TranslatedText   string `json:"translated_text"`
	OutputURL        string `json:"output_url"`
	OutputDurationMS int64  `json:"output_duration_ms"`
}

type apiError struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

func (s *Server) handleTranslateAPI(w http.ResponseWriter, r *http.Request) {
	res, form, err := s.translate(w, r)
	if err != nil {
		writeJSON(w, statusFor(err), apiError{Error: err.Error(), ErrorKind: pipeline.KindName(err)})
		return
	}
	writeJSON(w, http.StatusOK, apiResult{
		RequestID:        res.RequestID,
		Source:           string(form.source),
		Target:           string(form.target),
		Route:            res.Route.String(),
		SourceText:       res.SourceText,
		TranslatedText:   res.TranslatedText,
		OutputURL:        outputRoute + filepath.Base(res.OutputPath),
		OutputDurationMS: res.OutputDuration.Milliseconds(),
	})
}

type languageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type modelInfo struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	reg := s.orch.Registry()
	out := struct {
		Languages []languageInfo `json:"languages"`
		Models    []modelInfo    `json:"models"`
	}{}
	for _, l := range reg.Languages() {
		out.Languages = append(out.Languages, languageInfo{Code: string(l.Code), Name: l.Name})
	}
	for _, m := range reg.Models() {
		out.Models = append(out.Models, modelInfo{ID: m.ID, Source: string(m.Source), Target: string(m.Target)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".wav" {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(filepath.Join(s.outputDir, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat output", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

type formInput struct {
	source language.Code
	target language.Code
	size   stt.ModelSize
}

// translate reads the multipart form, stores the upload in a scoped temp
// file and runs the pipeline. The upload is removed before returning.
func (s *Server) translate(w http.ResponseWriter, r *http.Request) (pipeline.Result, formInput, error) {
	var form formInput
	limit := int64(s.cfg.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Result{}, form, fmt.Errorf("%w: upload exceeds %d MB", pipeline.ErrInvalidRequest, limit>>20)
		}
		return pipeline.Result{}, form, fmt.Errorf("%w: %v", pipeline.ErrInvalidRequest, err)
	}
	defer r.MultipartForm.RemoveAll()

	form.source = language.Code(strings.TrimSpace(r.FormValue("src")))
	form.target = language.Code(strings.TrimSpace(r.FormValue("tgt")))
	size, err := stt.ParseModelSize(r.FormValue("asr"))
	if err != nil {
		return pipeline.Result{}, form, fmt.Errorf("%w: %v", pipeline.ErrInvalidRequest, err)
	}
	form.size = size

	file, header, err := r.FormFile("audio")
	if err != nil {
		return pipeline.Result{}, form, fmt.Errorf("%w: an audio file is required", pipeline.ErrInvalidRequest)
	}
	defer file.Close()

	input, err := s.saveUpload(file, header)
	if err != nil {
		return pipeline.Result{}, form, err
	}
	defer os.Remove(input)

	id := uuid.NewString()
	res, err := s.orch.RunFile(r.Context(), pipeline.Request{
		ID:         id,
		InputPath:  input,
		Source:     form.source,
		Target:     form.target,
		OutputPath: filepath.Join(s.outputDir, id+".wav"),
		ASRSize:    size,
	})
	return res, form, err
}

func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	tmp, err := os.CreateTemp(s.uploadDir, "loqa_upload_*"+ext)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return tmp.Name(), nil
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Warn("failed to render page", slogError(err))
	}
}

// RunJanitor removes outputs older than the configured TTL until ctx ends.
func (s *Server) RunJanitor(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep deletes outputs last modified more than the TTL before now and
// returns how many were removed.
func (s *Server) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		s.logger.Warn("failed to list outputs", slogError(err))
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < s.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(s.outputDir, e.Name())); err != nil {
			s.logger.Warn("failed to remove expired output", slog.String("file", e.Name()), slogError(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired outputs removed", slog.Int("count", removed))
	}
	return removed
}

func statusFor(err error) int {
	switch pipeline.KindName(err) {
	case "unknown_language", "no_route_available", "invalid_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
