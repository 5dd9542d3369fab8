package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thermoline/internal/config"
	"thermoline/internal/notify"
)

func mailgunConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.Mail.Enabled = true
	cfg.Mail.APIURL = apiURL
	cfg.Mail.APIKey = "key-secret"
	cfg.Mail.Domain = "mg.example.com"
	cfg.Mail.Sender = "Thermoline <alerts@mg.example.com>"
	return cfg
}

func TestMailgunSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mg.example.com/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "oncall@example.com", r.PostForm.Get("to"))
		assert.Equal(t, "TEMPERATURE ALERT", r.PostForm.Get("subject"))
		assert.Equal(t, "details", r.PostForm.Get("text"))
		assert.Equal(t, "Thermoline <alerts@mg.example.com>", r.PostForm.Get("from"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer := notify.NewMailgun(mailgunConfig(srv.URL))
	err := mailer.Send(context.Background(), "oncall@example.com", "TEMPERATURE ALERT", "details")
	assert.NoError(t, err)
}

func TestMailgunSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mailer := notify.NewMailgun(mailgunConfig(srv.URL))
	err := mailer.Send(context.Background(), "oncall@example.com", "s", "b")
	assert.ErrorContains(t, err, "status 401")
}

func TestLogMailerNeverFails(t *testing.T) {
	mailer := notify.LogMailer{Log: zap.NewNop()}
	assert.NoError(t, mailer.Send(context.Background(), "x@example.com", "s", "b"))
}
