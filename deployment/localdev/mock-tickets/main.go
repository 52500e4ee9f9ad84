package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

type customField struct {
	ID    int64 `json:"id"`
	Value any   `json:"value"`
}

type ticket struct {
	ID           int64         `json:"id"`
	Subject      string        `json:"subject"`
	RequesterID  int64         `json:"requester_id"`
	CustomFields []customField `json:"custom_fields"`
}

type comment struct {
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

type fixture struct {
	ticket   ticket
	comments []comment
}

func fixtures() map[string]fixture {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return map[string]fixture{
		"1001": {
			ticket: ticket{
				ID: 1001, Subject: "Pipeline fails with null pointer after upgrade", RequesterID: 501,
				CustomFields: []customField{
					{ID: 40860554056601, Value: "AWS"},
					{ID: 49138745436441, Value: "Acme Corp"},
					{ID: 50198956158617, Value: "$120,000"},
				},
			},
			comments: []comment{
				{AuthorID: 501, Public: true, CreatedAt: base, Body: "Since the upgrade our Postgres pipeline fails every run with a NullPointerException. This blocks our month-end reporting."},
				{AuthorID: 900, Public: false, CreatedAt: base.Add(30 * time.Minute), Body: "Reproduced. The new schema mapper dereferences a missing column type. Engineering confirmed a code bug."},
				{AuthorID: 900, Public: true, CreatedAt: base.Add(2 * time.Hour), Body: "A fix has been deployed. Please re-run the pipeline."},
			},
		},
		"1002": {
			ticket: ticket{ID: 1002, Subject: "How do I rotate my API key?", RequesterID: 502},
			comments: []comment{
				{AuthorID: 502, Public: true, CreatedAt: base, Body: "Where do I rotate the API key for my account?"},
				{AuthorID: 901, Public: true, CreatedAt: base.Add(time.Hour), Body: "You can rotate it under Settings > API Keys. This is covered in the documentation."},
			},
		},
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("service", "tickets-mock"))
	data := fixtures()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v2/tickets/{name}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := strings.CutSuffix(r.PathValue("name"), ".json")
		f, found := data[id]
		if !ok || !found {
			writeError(w, http.StatusNotFound, "RecordNotFound")
			return
		}
		writeJSON(w, map[string]any{"ticket": f.ticket})
	})
	mux.HandleFunc("GET /api/v2/tickets/{id}/comments.json", func(w http.ResponseWriter, r *http.Request) {
		f, found := data[r.PathValue("id")]
		if !found {
			writeError(w, http.StatusNotFound, "RecordNotFound")
			return
		}
		writeJSON(w, map[string]any{"comments": f.comments})
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
