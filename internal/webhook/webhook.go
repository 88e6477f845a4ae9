// Package webhook receives GitHub push deliveries and hands matching ones to
// a pipeline runner.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/google/go-github/v61/github"
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/runner"
)

// Secret is the HMAC secret shared by the pipeline webhook and GitHub. It is
// derived from the source token and the pipeline name so redeploying the
// same pipeline keeps the registration valid.
func Secret(token, pipeline string) string {
	hash := sha256.New()
	for _, p := range []string{token, pipeline} {
		hash.Write([]byte(p))
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// Pusher is the part of a runner the handler drives.
type Pusher interface {
	Accepts(event runner.PushEvent) bool
	HandlePush(ctx context.Context, event runner.PushEvent) (*runner.Execution, error)
}

// Handler verifies delivery signatures and starts one execution per accepted
// push. Executions outlive the delivery request; Wait blocks until they end.
type Handler struct {
	secret []byte
	runner Pusher
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewHandler(secret string, r Pusher, logger zerolog.Logger) *Handler {
	return &Handler{
		secret: []byte(secret),
		runner: r,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected delivery")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	kind := github.WebHookType(r)
	delivery := github.DeliveryID(r)
	parsed, err := github.ParseWebHook(kind, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch ev := parsed.(type) {
	case *github.PingEvent:
		w.WriteHeader(http.StatusOK)
	case *github.PushEvent:
		event := pushEvent(ev)
		if !h.runner.Accepts(event) {
			h.logger.Debug().Str("delivery", delivery).Str("ref", event.Ref).Msg("push ignored")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.start(context.WithoutCancel(r.Context()), delivery, event)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) start(ctx context.Context, delivery string, event runner.PushEvent) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		exec, err := h.runner.HandlePush(ctx, event)
		if err != nil {
			h.logger.Error().Err(err).Str("delivery", delivery).Str("commit", event.Commit).Msg("execution failed")
			return
		}
		h.logger.Info().Str("delivery", delivery).Str("execution", exec.ID).Str("status", string(exec.Status)).Msg("execution finished")
	}()
}

// Wait blocks until every started execution has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func pushEvent(ev *github.PushEvent) runner.PushEvent {
	repo := ev.GetRepo()
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}
	return runner.PushEvent{
		Owner:  owner,
		Repo:   repo.GetName(),
		Ref:    ev.GetRef(),
		Commit: ev.GetAfter(),
	}
}
