package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSendWhatsAppNormalizesPhoneAndAuthenticates(t *testing.T) {
	var gotPath, gotAuth, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTo = body["to"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"wamid.123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", "", quietLogger())
	msgID, err := c.Send(context.Background(), models.ChannelWhatsApp,
		"+55 (11) 99999-8888", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "wamid.123" {
		t.Fatalf("message id = %q, want wamid.123", msgID)
	}
	if gotPath != "/api/v1/whatsapp/send" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotTo != "5511999998888" {
		t.Fatalf("to = %q, want digits only", gotTo)
	}
}

func TestSendFallsBackToLegacyEndpoint(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/sms/send" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", "", quietLogger())
	msgID, err := c.Send(context.Background(), models.ChannelSMS, "11988887777", "ping")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "42" {
		t.Fatalf("message id = %q, want 42", msgID)
	}
	want := []string{"/api/v1/sms/send", "/api/sms/send"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestSendServerErrorDoesNotTryNextVariant(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", "", quietLogger())
	_, err := c.Send(context.Background(), models.ChannelEmail, "a@b.com", "ping")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", apiErr.Status)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1 (500 is not an endpoint-variant miss)", hits)
	}
}

func TestSendReauthenticatesOnceOn401(t *testing.T) {
	logins := 0
	sends := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/client-login":
			http.NotFound(w, r)
		case "/login":
			logins++
			var creds map[string]string
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "svc" || creds["password"] != "hunter2" {
				t.Errorf("unexpected credentials: %v", creds)
			}
			_, _ = w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+logins)) + `"}`))
		default:
			sends++
			// The first token is treated as expired.
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				http.Error(w, "expired", http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"messageId":"m-77"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "svc", "hunter2", quietLogger())
	msgID, err := c.Send(context.Background(), models.ChannelSMS, "11988887777", "ping")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "m-77" {
		t.Fatalf("message id = %q, want m-77", msgID)
	}
	if logins != 2 {
		t.Fatalf("logins = %d, want 2 (initial acquire plus one reauth)", logins)
	}
	if sends != 2 {
		t.Fatalf("sends = %d, want 2", sends)
	}
}

func TestSendWithAPIKeyDoesNotReauthenticate(t *testing.T) {
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/client-login" {
			logins++
			_, _ = w.Write([]byte(`{"token":"fresh"}`))
			return
		}
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "stale-key", "svc", "hunter2", quietLogger())
	_, err := c.Send(context.Background(), models.ChannelEmail, "a@b.com", "ping")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("want 401 APIError, got %v", err)
	}
	if logins != 0 {
		t.Fatalf("logins = %d, want 0 (static key is never refreshed)", logins)
	}
}

func TestSendWithoutCredentials(t *testing.T) {
	c := NewClient("http://unused.invalid", "", "", "", quietLogger())
	_, err := c.Send(context.Background(), models.ChannelSMS, "11988887777", "ping")
	if err == nil {
		t.Fatal("expected error with no api key and no login credentials")
	}
}

func TestSendUnsupportedChannel(t *testing.T) {
	c := NewClient("http://unused.invalid", "key", "", "", quietLogger())
	if _, err := c.Send(context.Background(), models.Channel("pigeon"), "x", "ping"); err == nil {
		t.Fatal("expected error for unsupported channel")
	}
}

func TestSendRejectsEmptyPhoneAfterNormalization(t *testing.T) {
	c := NewClient("http://unused.invalid", "key", "", "", quietLogger())
	_, err := c.Send(context.Background(), models.ChannelWhatsApp, "not-a-number", "ping")
	if err == nil {
		t.Fatal("expected error for target with no digits")
	}
}

func TestLoginAcceptsJWTKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/client-login" {
			_, _ = w.Write([]byte(`{"jwt":"signed.jwt.token"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer signed.jwt.token" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "svc", "hunter2", quietLogger())
	msgID, err := c.Send(context.Background(), models.ChannelEmail, "a@b.com", "ping")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "ok" {
		t.Fatalf("message id = %q, want ok", msgID)
	}
}

func TestExtractMessageID(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"message_id", `{"message_id":"a1"}`, "a1"},
		{"id string", `{"id":"b2"}`, "b2"},
		{"id number", `{"id": 1234}`, "1234"},
		{"externalId", `{"externalId":"c3"}`, "c3"},
		{"messageId", `{"messageId":"d4"}`, "d4"},
		{"empty body", `{}`, ""},
		{"not json", `ok`, ""},
		{"empty string skipped", `{"message_id":"","id":"e5"}`, "e5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractMessageID([]byte(tc.body)); got != tc.want {
				t.Fatalf("extractMessageID(%s) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	cases := map[string]string{
		"+55 (11) 99999-8888": "5511999998888",
		"11988887777":         "11988887777",
		"abc":                 "",
		"":                    "",
	}
	for in, want := range cases {
		if got := digitsOnly(in); got != want {
			t.Fatalf("digitsOnly(%q) = %q, want %q", in, got, want)
		}
	}
}
