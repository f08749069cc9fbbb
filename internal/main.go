package internal

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

const (
	Greeting     = "hello world!"
	Confirmation = "hello shape!"
)

// ShapePublisher serializes publishes on a single channel handle so a batch
// is never interleaved with another publisher's writes.
type ShapePublisher struct {
	mu  sync.Mutex
	pub *Publisher[Shape]
}

func NewShapePublisher(pub *Publisher[Shape]) *ShapePublisher {
	return &ShapePublisher{pub: pub}
}

func (p *ShapePublisher) Publish(shapes ...Shape) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, shape := range shapes {
		if err := p.pub.Publish(shape); err != nil {
			return err
		}
	}

	return nil
}

type State struct {
	Publisher *ShapePublisher
	Counters  Counters
}

func Router(logger *slog.Logger, state *State) chi.Router {
	if state.Counters == nil {
		state.Counters = NopCounters{}
	}

	router := chi.NewRouter()
	router.Use(mid())
	router.Get("/", rootRoute())
	router.Post("/shape", ShapeHandler(logger, state))
	router.Post("/shapes", ShapesHandler(logger, state))

	return router
}

func mid() func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "shapecast")
			w.Header().Set("Connection", "Close")
			handler.ServeHTTP(w, r)
		})
	}
}

func rootRoute() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(Greeting))
	}
}
