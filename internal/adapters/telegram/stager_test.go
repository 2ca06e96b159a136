package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
)

type stubLinker struct {
	base string
	err  error
}

func (s stubLinker) GetFileDirectURL(fileID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.base + "/file/" + fileID, nil
}

func TestStagerDownloadsAndReleases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file/missing.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewStager(stubLinker{base: srv.URL}, srv.Client(), dir, zerolog.Nop())

	path, release, err := s.Stage(context.Background(), domain.Document{Ref: "report.pdf", Caption: "c"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if filepath.Ext(path) != ".pdf" {
		t.Fatalf("ожидали расширение .pdf, получили %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Fatalf("неожиданное содержимое %q: %v", data, err)
	}
	release()
	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("ожидали удаление временного файла")
	}

	if _, _, err := s.Stage(context.Background(), domain.Document{Ref: "missing.pdf"}); err == nil {
		t.Fatal("ожидали ошибку для 404")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("ожидали пустой каталог после ошибки, осталось %d файлов", len(entries))
	}
}

func TestStagerLinkError(t *testing.T) {
	s := NewStager(stubLinker{err: errors.New("boom")}, nil, t.TempDir(), zerolog.Nop())
	if _, _, err := s.Stage(context.Background(), domain.Photo{Ref: "x"}); err == nil {
		t.Fatal("ожидали ошибку получения ссылки")
	}
}
