package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const outboxKey = "email_outbox"

type OutboxStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string, expires time.Duration) error
}

type OutboxMessage struct {
	To      string
	Subject string
	Body    string
	SentAt  int64
}

// Outbox stands in for SMTP when none is configured. Messages are kept in the
// key value store for an hour and can be read on a localhost page.
type Outbox struct {
	sugar *zap.SugaredLogger
	store OutboxStore

	// serializes the read-modify-write of the message list
	mutex sync.Mutex
}

func NewOutbox(sugar *zap.SugaredLogger, store OutboxStore) *Outbox {
	return &Outbox{sugar: sugar, store: store}
}

func (o *Outbox) Messages(ctx context.Context) ([]OutboxMessage, error) {
	result, err := o.store.Get(ctx, outboxKey)
	if err != nil {
		return nil, err
	}

	var messages []OutboxMessage
	if result != "" {
		if err := json.Unmarshal([]byte(result), &messages); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (o *Outbox) Send(ctx context.Context, to string, subject string, body string) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	messages, err := o.Messages(ctx)
	if err != nil {
		return err
	}

	messages = append(messages, OutboxMessage{
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UnixMilli(),
	})

	jsonBytes, err := json.Marshal(messages)
	if err != nil {
		return err
	}

	if err := o.store.Set(ctx, outboxKey, string(jsonBytes), time.Hour); err != nil {
		return err
	}

	o.sugar.Infof("Email to [%s] kept in the local outbox", to)
	return nil
}

func (o *Outbox) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		messages, err := o.Messages(r.Context())
		if err != nil {
			o.sugar.Error(err)
			http.Error(w, "", http.StatusInternalServerError)
			return
		}

		var page []byte
		if len(messages) == 0 {
			page = fmt.Append(page, "<h1>No emails sent</h1>\n")
		} else {
			page = fmt.Append(page, "<h1>Emails sent in the last hour:</h1>")
			for i := len(messages) - 1; i >= 0; i-- {
				m := messages[i]
				page = fmt.Appendf(page, "<hr><p><b>%s</b> to %s</p>%s", html.EscapeString(m.Subject), html.EscapeString(m.To), m.Body)
			}
		}

		if _, err := w.Write(page); err != nil {
			o.sugar.Error(err)
		}
	})

	return r
}

// Listen serves the outbox page on address until ctx is done.
func (o *Outbox) Listen(ctx context.Context, address string) {
	server := &http.Server{Addr: address, Handler: o.Router()}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	o.sugar.Infof("View sent emails on http://%s/emails", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		o.sugar.Error(err)
	}
}
