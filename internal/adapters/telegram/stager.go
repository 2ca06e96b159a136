package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
)

// FileLinker выдаёт прямую ссылку на файл Bot API. Реализуется *tgbotapi.BotAPI.
type FileLinker interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Stager скачивает медиа по file_id во временный файл.
type Stager struct {
	files FileLinker
	http  *http.Client
	dir   string
	log   zerolog.Logger
}

var _ domain.MediaStager = (*Stager)(nil)

// NewStager создаёт загрузчик. Пустой dir означает системный каталог временных файлов.
func NewStager(files FileLinker, httpClient *http.Client, dir string, log zerolog.Logger) *Stager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Stager{files: files, http: httpClient, dir: dir, log: log}
}

// Stage скачивает файл. release удаляет его и безопасен при повторном вызове.
func (s *Stager) Stage(ctx context.Context, media domain.Media) (string, func(), error) {
	link, err := s.files.GetFileDirectURL(media.FileRef())
	if err != nil {
		return "", nil, fmt.Errorf("ссылка на файл: %w", err)
	}

	f, err := os.CreateTemp(s.dir, "dispatch-*"+extension(media.Kind(), link))
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	release := func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", name).Msg("не удалось удалить временный файл")
		}
	}

	start := time.Now()
	err = s.download(ctx, link, f)
	metrics.ObserveNetworkRequest("bot_api", "download", string(media.Kind()), start, err)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		release()
		return "", nil, err
	}
	return name, release, nil
}

func (s *Stager) download(ctx context.Context, link string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("скачивание файла: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("скачивание файла: статус %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func extension(kind domain.ContentKind, link string) string {
	switch kind {
	case domain.KindPhoto:
		return ".jpg"
	case domain.KindVideo:
		return ".mp4"
	}
	if u, err := url.Parse(link); err == nil {
		return path.Ext(u.Path)
	}
	return ""
}
