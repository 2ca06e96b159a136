package domain

import "context"

// PlatformClient выполняет отправку от имени одного аккаунта.
// Клиент не потокобезопасен: вызовы одного аккаунта сериализует хранилище.
type PlatformClient interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	SendText(ctx context.Context, to Recipient, text string, button *Button) error
	SendMedia(ctx context.Context, to Recipient, file MediaFile, button *Button) error
	Disconnect(ctx context.Context) error
}

// MediaFile локально подготовленный файл для одной отправки.
type MediaFile struct {
	Kind    ContentKind
	Path    string
	Caption string
}

// ClientFactory создаёт клиент платформы для аккаунта.
type ClientFactory interface {
	NewClient(acc Account) PlatformClient
}

// Persistence загружает и сохраняет снимок состояния.
type Persistence interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// MediaStager материализует медиа во временный файл.
// release удаляет файл и должен вызываться на любом пути выхода.
type MediaStager interface {
	Stage(ctx context.Context, media Media) (path string, release func(), err error)
}

// EventSink принимает события доставки.
type EventSink interface {
	Publish(ctx context.Context, event DeliveryEvent) error
}
