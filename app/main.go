package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const defaultPort = "80"

func newHandler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Info().Str("path", r.URL.Path).Str("method", r.Method).Msg("request")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hello from " + color() + "\n"))
	})
	return mux
}

// color is set on the task definition so each rollout is visible behind the
// load balancer.
func color() string {
	if c := os.Getenv("COLOR"); c != "" {
		return c
	}
	return "nowhere"
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           newHandler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdown); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server closed")
}
