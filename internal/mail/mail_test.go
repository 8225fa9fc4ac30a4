package mail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSend(t *testing.T) {
	var gotForm struct {
		to      []string
		from    string
		subject string
		text    string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "key-test" {
			t.Errorf("unexpected auth %q/%q", user, pass)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotForm.to = r.MultipartForm.Value["to"]
		gotForm.from = r.FormValue("from")
		gotForm.subject = r.FormValue("subject")
		gotForm.text = r.FormValue("text")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<20260828.1@mail.test>","message":"Queued"}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "key-test", "watch@example.test", srv.Client(), testLogger())
	id, err := c.Send(context.Background(), Message{
		To:      []string{"a@example.test", "b@example.test"},
		Subject: "ogre: 2 new, 0 gone, 1 changed",
		Text:    "report body",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "<20260828.1@mail.test>" {
		t.Errorf("message id = %q", id)
	}
	if len(gotForm.to) != 2 {
		t.Errorf("to = %v, want two recipients", gotForm.to)
	}
	if gotForm.from != "watch@example.test" {
		t.Errorf("from = %q", gotForm.from)
	}
	if gotForm.subject == "" || gotForm.text != "report body" {
		t.Errorf("subject=%q text=%q", gotForm.subject, gotForm.text)
	}
}

func TestSendAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		files := r.MultipartForm.File["attachment"]
		if len(files) != 1 {
			t.Fatalf("attachments = %d, want 1", len(files))
		}
		if files[0].Filename != "ogre-run-1.txt" {
			t.Errorf("filename = %q", files[0].Filename)
		}
		f, err := files[0].Open()
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		buf := make([]byte, 32)
		n, _ := f.Read(buf)
		if string(buf[:n]) != "attached report" {
			t.Errorf("attachment content = %q", buf[:n])
		}

		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "k", "watch@example.test", srv.Client(), testLogger())
	_, err := c.Send(context.Background(), Message{
		To:      []string{"a@example.test"},
		Subject: "s",
		Text:    "t",
		Attachment: &Attachment{
			Filename: "ogre-run-1.txt",
			Content:  []byte("attached report"),
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Forbidden", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "bad-key", "watch@example.test", srv.Client(), testLogger())
	_, err := c.Send(context.Background(), Message{To: []string{"a@example.test"}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestSendNoRecipients(t *testing.T) {
	c := New("http://unused.test", "k", "watch@example.test", testLogger())
	if _, err := c.Send(context.Background(), Message{Subject: "s"}); err == nil {
		t.Fatal("expected error for empty recipient list")
	}
}
