package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// ContentKind определяет тип содержимого сообщения.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindPhoto    ContentKind = "photo"
	KindVideo    ContentKind = "video"
	KindDocument ContentKind = "document"
)

// Content закрытый вариант содержимого: Text, Photo, Video или Document.
type Content interface {
	Kind() ContentKind
	// Body возвращает текст сообщения или подпись к медиа.
	Body() string
	isContent()
}

// Media содержимое со ссылкой на файл Bot API.
type Media interface {
	Content
	FileRef() string
}

// Text обычное текстовое сообщение.
type Text struct {
	Text string
}

// Photo фотография с подписью.
type Photo struct {
	Ref     string
	Caption string
}

// Video видео с подписью.
type Video struct {
	Ref     string
	Caption string
}

// Document файл с подписью.
type Document struct {
	Ref     string
	Caption string
}

func (Text) Kind() ContentKind     { return KindText }
func (Photo) Kind() ContentKind    { return KindPhoto }
func (Video) Kind() ContentKind    { return KindVideo }
func (Document) Kind() ContentKind { return KindDocument }

func (c Text) Body() string     { return c.Text }
func (c Photo) Body() string    { return c.Caption }
func (c Video) Body() string    { return c.Caption }
func (c Document) Body() string { return c.Caption }

func (c Photo) FileRef() string    { return c.Ref }
func (c Video) FileRef() string    { return c.Ref }
func (c Document) FileRef() string { return c.Ref }

func (Text) isContent()     {}
func (Photo) isContent()    {}
func (Video) isContent()    {}
func (Document) isContent() {}

// NewContent собирает вариант содержимого из плоских полей хранилища.
func NewContent(kind ContentKind, body, ref string) (Content, error) {
	switch kind {
	case "", KindText:
		return Text{Text: body}, nil
	case KindPhoto, KindVideo, KindDocument:
		if ref == "" {
			return nil, fmt.Errorf("%s без file_id: %w", kind, ErrInvalidContent)
		}
	default:
		return nil, fmt.Errorf("тип %q: %w", kind, ErrInvalidContent)
	}
	switch kind {
	case KindPhoto:
		return Photo{Ref: ref, Caption: body}, nil
	case KindVideo:
		return Video{Ref: ref, Caption: body}, nil
	default:
		return Document{Ref: ref, Caption: body}, nil
	}
}

// FileRefOf возвращает file_id медиа или пустую строку для текста.
func FileRefOf(c Content) string {
	if m, ok := c.(Media); ok {
		return m.FileRef()
	}
	return ""
}

// Button inline-кнопка со ссылкой.
type Button struct {
	Label string
	URL   string
}

// NewButton проверяет подпись и абсолютный http(s) URL.
func NewButton(label, rawURL string) (Button, error) {
	label = strings.TrimSpace(label)
	rawURL = strings.TrimSpace(rawURL)
	if label == "" {
		return Button{}, fmt.Errorf("пустая подпись: %w", ErrInvalidButton)
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Button{}, fmt.Errorf("ссылка %q: %w", rawURL, ErrInvalidButton)
	}
	return Button{Label: label, URL: rawURL}, nil
}
