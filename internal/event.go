package internal

import (
	"io"
	"log/slog"
	"net/http"
)

func ShapeHandler(logger *slog.Logger, state *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			badRequest(w, r, state, err)
			return
		}

		shape, err := DecodeShape(b)
		if err != nil {
			badRequest(w, r, state, err)
			return
		}

		logger.Debug("shape received", slog.String("kind", shape.Kind.String()))
		publish(w, r, logger, state, shape)
	}
}

func ShapesHandler(logger *slog.Logger, state *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			badRequest(w, r, state, err)
			return
		}

		batch, err := DecodeShapeBatch(b)
		if err != nil {
			badRequest(w, r, state, err)
			return
		}

		logger.Debug("shapes received", slog.Int("count", len(batch)))
		publish(w, r, logger, state, batch...)
	}
}

func publish(w http.ResponseWriter, r *http.Request, logger *slog.Logger, state *State, shapes ...Shape) {
	if err := state.Publisher.Publish(shapes...); err != nil {
		logger.Error("failed to publish shapes", slog.Any("err", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	state.Counters.Incr(r.Context(), CounterPublished, int64(len(shapes)))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Confirmation))
}

func badRequest(w http.ResponseWriter, r *http.Request, state *State, err error) {
	state.Counters.Incr(r.Context(), CounterBadRequests, 1)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(err.Error()))
}
