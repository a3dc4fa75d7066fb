package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/ivanvanderbyl/pdfdocx"
)

// server converts uploaded PDFs. Each request borrows a pdfium instance from
// the pool for the duration of its conversion.
type server struct {
	router    chi.Router
	pool      pdfium.Pool
	config    pdfdocx.Config
	maxUpload int64
	log       logrus.FieldLogger
}

func newServer(pool pdfium.Pool, config pdfdocx.Config, maxUpload int64, log logrus.FieldLogger) *server {
	s := &server{pool: pool, config: config, maxUpload: maxUpload, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/health", s.handleHealth)
	r.Post("/convert/{format}", s.handleConvert)
	s.router = r
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleConvert converts the PDF in the request body into the format named
// by the path. The degradation report is returned in X-Degraded-* headers.
func (s *server) handleConvert(w http.ResponseWriter, r *http.Request) {
	writer, contentType, err := writerFor(chi.URLParam(r, "format"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxUpload+1))
	if err != nil {
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > s.maxUpload {
		jsonError(w, "file exceeds max size ("+strconv.FormatInt(s.maxUpload, 10)+" bytes)", http.StatusRequestEntityTooLarge)
		return
	}

	log := s.log.WithField("request_id", middleware.GetReqID(r.Context()))
	result, err := s.convert(r.Context(), data, log)
	if err != nil {
		log.WithError(err).Warn("Conversion failed")
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var buf bytes.Buffer
	if err := result.Write(&buf, writer); err != nil {
		log.WithError(err).Error("Writing document failed")
		jsonError(w, "failed to write document", http.StatusInternalServerError)
		return
	}

	report := result.Report
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Degraded-Fallback-Tables", strconv.Itoa(report.FallbackTables))
	w.Header().Set("X-Degraded-Plain-Text-Tables", strconv.Itoa(report.PlainTextTables))
	w.Header().Set("X-Degraded-Missing-Images", strconv.Itoa(report.MissingImages))
	w.Header().Set("X-Degraded-Widened-Spans", strconv.Itoa(report.WidenedSpans))
	w.Write(buf.Bytes())
}

func (s *server) convert(ctx context.Context, data []byte, log logrus.FieldLogger) (*pdfdocx.Result, error) {
	config := s.config
	config.Logger = log

	if s.pool == nil {
		return pdfdocx.NewConverterWithConfig(nil, config).ConvertBytes(ctx, data)
	}

	instance, err := s.pool.GetInstance(30 * time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pdfium instance")
	}
	defer instance.Close()
	return pdfdocx.NewConverterWithConfig(instance, config).ConvertBytes(ctx, data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func serve(ctx context.Context, cmd *cli.Command) error {
	config := configFromFlags(cmd)

	var pool pdfium.Pool
	if config.Decoder != pdfdocx.DecoderGo {
		p, err := webassembly.Init(webassembly.Config{
			MinIdle:  1,
			MaxIdle:  2,
			MaxTotal: 4,
		})
		if err != nil {
			return errors.Wrap(err, "failed to initialise pdfium")
		}
		defer p.Close()
		pool = p
	}

	srv := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           newServer(pool, config, cmd.Int64("max-upload"), logrus.StandardLogger()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", srv.Addr).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
