package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const queryTimeout = 4 * time.Second

// JSONEncode writes data with status sCode. Errors become {"error": ...} and
// plain strings become {"message": ...}.
func JSONEncode(w http.ResponseWriter, sCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(sCode)

	if err, ok := data.(error); ok {
		data = map[string]any{"error": err.Error()}
	} else if str, ok := data.(string); ok {
		data = map[string]any{"message": str}
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Couldn't serialize response.", "err", err)
	}
}

func QueryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), queryTimeout)
}

// Serve runs srv until ctx is cancelled, then shuts it down within grace.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening.", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Http server closing, preparing graceful shutdown...", "addr", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
