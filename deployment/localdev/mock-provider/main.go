package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// completionBody is what a cooperative model would answer for any narrative.
// Deterministic so pipeline runs against the mock are reproducible.
const completionBody = `{"interpretation":"The water in your dream points to emotions rising toward the surface. The pursuit suggests something in waking life you have been avoiding rather than confronting.","mood":"anxious","confidence":0.74,"sources":["jungian-archetypes","symbol-dictionary"]}`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// OpenAI-compatible surface; groq mounts it under /openai/v1.
	chatCompletions := func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		model := req.Model
		if model == "" {
			model = "mock-chat"
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "```json\n" + completionBody + "\n```"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     180,
				"completion_tokens": 96,
				"total_tokens":      276,
			},
		})
	}
	mux.HandleFunc("/v1/chat/completions", chatCompletions)
	mux.HandleFunc("/openai/v1/chat/completions", chatCompletions)

	// Anthropic messages surface.
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		model := req.Model
		if model == "" {
			model = "mock-messages"
		}
		writeJSON(w, map[string]any{
			"id":    "msg-mock",
			"type":  "message",
			"role":  "assistant",
			"model": model,
			"content": []map[string]any{
				{"type": "text", "text": completionBody},
			},
			"usage": map[string]any{
				"input_tokens":  180,
				"output_tokens": 96,
			},
		})
	})

	logger := log.New(log.Writer(), "provider-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9100",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9100")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
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
