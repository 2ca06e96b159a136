package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	httpinfra "tg-dispatch-bot/internal/infra/http"
	"tg-dispatch-bot/internal/usecase/schedule"
)

// Store часть хранилища, доступная через API.
type Store interface {
	Accounts() []domain.Account
	Connected(name string) bool
	Targets() []domain.Target
	Tasks() []domain.ScheduledTask
	DequeueTask(ctx context.Context, id string) error
	Stats() domain.Stats
	AccountStats(name string) (domain.AccountStats, bool)
}

// Scheduler ставит отложенные отправки.
type Scheduler interface {
	Schedule(ctx context.Context, req schedule.Request) ([]domain.ScheduledTask, error)
}

// Handler административный HTTP API.
type Handler struct {
	store     Store
	scheduler Scheduler
	offset    time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler создаёт API. offset сдвиг времени оператора для поля when.
func NewHandler(store Store, scheduler Scheduler, offset time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		store:     store,
		scheduler: scheduler,
		offset:    offset,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With().Str("component", "api").Logger(),
	}
}

// Mount регистрирует маршруты /api/v1 под bearer-авторизацией.
func (h *Handler) Mount(r chi.Router, token string) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpinfra.BearerAuth(token))
		r.Get("/accounts", h.listAccounts)
		r.Get("/targets", h.listTargets)
		r.Get("/tasks", h.listTasks)
		r.Post("/tasks", h.createTasks)
		r.Delete("/tasks/{id}", h.deleteTask)
		r.Get("/stats", h.stats)
		r.Get("/stats/{account}", h.accountStats)
	})
}

type accountView struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Connected bool   `json:"connected"`
}

type targetView struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Display  string   `json:"display"`
	Accounts []string `json:"assigned_accounts"`
}

type buttonView struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type taskView struct {
	ID          string      `json:"id"`
	Time        string      `json:"time"`
	TargetID    string      `json:"target_id"`
	ContentType string      `json:"content_type"`
	Text        string      `json:"text"`
	FileID      string      `json:"file_id,omitempty"`
	Button      *buttonView `json:"button,omitempty"`
	Accounts    []string    `json:"accounts"`
}

type historyView struct {
	Time   string `json:"time"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

type createTasksRequest struct {
	TargetIDs   []string    `json:"target_ids"`
	ContentType string      `json:"content_type"`
	Text        string      `json:"text"`
	FileID      string      `json:"file_id"`
	Button      *buttonView `json:"button"`
	Accounts    []string    `json:"accounts"`
	When        string      `json:"when"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.store.Accounts()
	out := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, accountView{Name: acc.Name, Phone: acc.Phone, Connected: h.store.Connected(acc.Name)})
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	targets := h.store.Targets()
	out := make([]targetView, 0, len(targets))
	for _, t := range targets {
		out = append(out, targetView{ID: t.ID(), Type: string(t.Type), Display: t.Display(), Accounts: nonNil(t.AssignedAccounts)})
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.store.Tasks()
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, viewTask(task))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) createTasks(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	content, err := domain.NewContent(domain.ContentKind(req.ContentType), req.Text, req.FileID)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var button *domain.Button
	if req.Button != nil {
		b, err := domain.NewButton(req.Button.Label, req.Button.URL)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		button = &b
	}
	due, err := schedule.ParseWhen(req.When, h.now(), h.offset)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := h.scheduler.Schedule(r.Context(), schedule.Request{
		TargetIDs: req.TargetIDs,
		Content:   content,
		Button:    button,
		Accounts:  req.Accounts,
		Due:       due,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrTargetNotFound) || errors.Is(err, domain.ErrInvalidTime) || errors.Is(err, domain.ErrInvalidContent) {
			status = http.StatusBadRequest
		}
		h.log.Warn().Err(err).Int("created", len(tasks)).Msg("api: постановка задач")
		httpinfra.WriteError(w, status, err.Error())
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, viewTask(task))
	}
	httpinfra.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	err := h.store.DequeueTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrTaskNotFound) {
		httpinfra.WriteError(w, http.StatusNotFound, "задача не найдена")
		return
	}
	if err != nil {
		httpinfra.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	var lastSend *string
	if !stats.LastSend.IsZero() {
		s := stats.LastSend.UTC().Format(domain.TimeLayout)
		lastSend = &s
	}
	perAccount := make(map[string]int, len(stats.Accounts))
	for name, acc := range stats.Accounts {
		perAccount[name] = acc.Sent
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"sent":      stats.Sent,
		"last_send": lastSend,
		"accounts":  perAccount,
	})
}

func (h *Handler) accountStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "account")
	acc, ok := h.store.AccountStats(name)
	if !ok {
		httpinfra.WriteError(w, http.StatusNotFound, "нет статистики аккаунта")
		return
	}
	history := make([]historyView, 0, len(acc.History))
	for _, rec := range acc.History {
		history = append(history, historyView{Time: rec.Time.UTC().Format(domain.TimeLayout), Target: rec.Target, Text: rec.Text})
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"account": name, "sent": acc.Sent, "history": history})
}

func viewTask(task domain.ScheduledTask) taskView {
	v := taskView{
		ID:          task.ID,
		Time:        task.Due.UTC().Format(domain.TimeLayout),
		TargetID:    task.TargetID,
		ContentType: string(task.Content.Kind()),
		Text:        task.Content.Body(),
		FileID:      domain.FileRefOf(task.Content),
		Accounts:    nonNil(task.Accounts),
	}
	if task.Button != nil {
		v.Button = &buttonView{Label: task.Button.Label, URL: task.Button.URL}
	}
	return v
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
