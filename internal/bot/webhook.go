package bot

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SecretHeader carries the secret token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// Webhook receives Telegram updates over HTTP. Updates are acknowledged
// immediately and processed in the background.
type Webhook struct {
	handler *Handler
	secret  string
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWebhook creates a Webhook. An empty secret disables the header check.
// timeout bounds the processing of one update.
func NewWebhook(handler *Handler, secret string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		handler: handler,
		secret:  secret,
		timeout: timeout,
		logger:  logger.With("component", "webhook"),
	}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if wh.secret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(wh.secret)) != 1 {
		wh.logger.Warn("webhook secret mismatch", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var u Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&u); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	wh.wg.Add(1)
	go func() {
		defer wh.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), wh.timeout)
		defer cancel()
		if err := wh.handler.HandleUpdate(ctx, u); err != nil {
			wh.logger.Error("update handling failed", "update_id", u.UpdateID, "error", err)
		}
	}()
}

// Wait blocks until all accepted updates have been processed.
func (wh *Webhook) Wait() {
	wh.wg.Wait()
}
