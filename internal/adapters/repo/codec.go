package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
)

// Имена коллекций. Совпадают с именами JSON-файлов данных.
const (
	CollectionAccounts  = "accounts"
	CollectionTargets   = "targets"
	CollectionScheduled = "scheduled"
	CollectionDrafts    = "drafts"
	CollectionStats     = "stats"
)

// Collections все коллекции в порядке сохранения.
var Collections = []string{CollectionAccounts, CollectionTargets, CollectionScheduled, CollectionDrafts, CollectionStats}

type accountRecord struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone"`
}

type targetRecord struct {
	Type             string   `json:"type"`
	Username         string   `json:"username,omitempty"`
	ChatID           flexInt  `json:"chat_id,omitempty"`
	AssignedAccounts []string `json:"assigned_accounts"`
}

type buttonRecord struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type markupRecord struct {
	InlineKeyboard [][]buttonRecord `json:"inline_keyboard"`
}

type taskRecord struct {
	ID          string          `json:"id,omitempty"`
	Time        string          `json:"time"`
	TargetID    string          `json:"target_id"`
	Text        string          `json:"text"`
	ContentType string          `json:"content_type,omitempty"`
	FileID      string          `json:"file_id,omitempty"`
	ReplyMarkup json.RawMessage `json:"reply_markup,omitempty"`
	Accounts    []string        `json:"accounts"`
}

type draftRecord struct {
	ID          int      `json:"id"`
	Text        string   `json:"text"`
	ContentType string   `json:"content_type,omitempty"`
	FileID      string   `json:"file_id,omitempty"`
	TargetIDs   []string `json:"target_ids"`
	Accounts    []string `json:"accounts"`
}

type historyRecord struct {
	Time   string `json:"time"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

type accountStatsRecord struct {
	Sent    int             `json:"sent"`
	History []historyRecord `json:"history"`
}

type generalStatsRecord struct {
	Sent     int     `json:"sent"`
	LastSend *string `json:"last_send"`
}

// flexInt принимает число или строку с числом.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("chat_id %q: %w", raw, err)
	}
	*f = flexInt(v)
	return nil
}

// Encode сериализует снимок в набор документов по коллекциям.
func Encode(state domain.State) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Collections))

	accounts := orderedObject{}
	for _, acc := range state.Accounts {
		accounts.add(acc.Name, accountRecord{APIID: acc.APIID, APIHash: acc.APIHash, Phone: acc.Phone})
	}
	targets := orderedObject{}
	for _, t := range state.Targets {
		rec := targetRecord{Type: string(t.Type), AssignedAccounts: nonNil(t.AssignedAccounts)}
		if t.Type == domain.TargetGroup {
			rec.ChatID = flexInt(t.ChatID)
		} else {
			rec.Username = t.Username
		}
		targets.add(t.ID(), rec)
	}

	tasks := make([]taskRecord, 0, len(state.Tasks))
	for _, task := range state.Tasks {
		rec := taskRecord{
			ID:          task.ID,
			Time:        task.Due.UTC().Format(domain.TimeLayout),
			TargetID:    task.TargetID,
			Text:        task.Content.Body(),
			ContentType: string(task.Content.Kind()),
			FileID:      domain.FileRefOf(task.Content),
			Accounts:    nonNil(task.Accounts),
		}
		if task.Button != nil {
			markup, err := json.Marshal(markupRecord{InlineKeyboard: [][]buttonRecord{{{Text: task.Button.Label, URL: task.Button.URL}}}})
			if err != nil {
				return nil, err
			}
			rec.ReplyMarkup = markup
		}
		tasks = append(tasks, rec)
	}

	drafts := make([]draftRecord, 0, len(state.Drafts))
	for _, d := range state.Drafts {
		drafts = append(drafts, draftRecord{
			ID:          d.ID,
			Text:        d.Content.Body(),
			ContentType: string(d.Content.Kind()),
			FileID:      domain.FileRefOf(d.Content),
			TargetIDs:   nonNil(d.TargetIDs),
			Accounts:    nonNil(d.Accounts),
		})
	}

	general := generalStatsRecord{Sent: state.Stats.Sent}
	if !state.Stats.LastSend.IsZero() {
		last := state.Stats.LastSend.UTC().Format(domain.TimeLayout)
		general.LastSend = &last
	}
	perAccount := orderedObject{}
	for _, name := range sortedKeys(state.Stats.Accounts) {
		acc := state.Stats.Accounts[name]
		history := make([]historyRecord, 0, len(acc.History))
		for _, h := range acc.History {
			history = append(history, historyRecord{Time: h.Time.UTC().Format(domain.TimeLayout), Target: h.Target, Text: h.Text})
		}
		perAccount.add(name, accountStatsRecord{Sent: acc.Sent, History: history})
	}
	statsDoc := orderedObject{}
	statsDoc.add("general", general)
	statsDoc.add("accounts", perAccount)

	docs := map[string]any{
		CollectionAccounts:  accounts,
		CollectionTargets:   targets,
		CollectionScheduled: tasks,
		CollectionDrafts:    drafts,
		CollectionStats:     statsDoc,
	}
	for name, doc := range docs {
		data, err := marshalIndent(doc)
		if err != nil {
			return nil, fmt.Errorf("кодирование %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Decode восстанавливает снимок. Отсутствующие коллекции считаются пустыми.
// Задачи с нераспознанным временем или содержимым пропускаются с предупреждением.
func Decode(docs map[string][]byte, log zerolog.Logger) (domain.State, error) {
	state := domain.State{Stats: domain.Stats{Accounts: map[string]domain.AccountStats{}}}

	if data := docs[CollectionAccounts]; len(bytes.TrimSpace(data)) > 0 {
		keys, raw, err := decodeOrdered(data)
		if err != nil {
			return state, fmt.Errorf("accounts: %w", err)
		}
		for _, name := range keys {
			var rec accountRecord
			if err := json.Unmarshal(raw[name], &rec); err != nil {
				return state, fmt.Errorf("accounts[%s]: %w", name, err)
			}
			state.Accounts = append(state.Accounts, domain.Account{Name: name, APIID: rec.APIID, APIHash: rec.APIHash, Phone: rec.Phone})
		}
	}

	if data := docs[CollectionTargets]; len(bytes.TrimSpace(data)) > 0 {
		keys, raw, err := decodeOrdered(data)
		if err != nil {
			return state, fmt.Errorf("targets: %w", err)
		}
		for _, id := range keys {
			var rec targetRecord
			if err := json.Unmarshal(raw[id], &rec); err != nil {
				return state, fmt.Errorf("targets[%s]: %w", id, err)
			}
			var t domain.Target
			if rec.Type == string(domain.TargetGroup) {
				t = domain.GroupTarget(int64(rec.ChatID))
			} else {
				t = domain.UserTarget(rec.Username)
			}
			t.AssignedAccounts = rec.AssignedAccounts
			if t.ID() != id {
				log.Warn().Str("key", id).Str("derived", t.ID()).Msg("ключ получателя не совпадает с его данными")
			}
			state.Targets = append(state.Targets, t)
		}
	}

	if data := docs[CollectionScheduled]; len(bytes.TrimSpace(data)) > 0 {
		var recs []taskRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return state, fmt.Errorf("scheduled: %w", err)
		}
		for i, rec := range recs {
			task, err := decodeTask(rec, log)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Str("target", rec.TargetID).Msg("задача пропущена при загрузке")
				continue
			}
			state.Tasks = append(state.Tasks, task)
		}
	}

	if data := docs[CollectionDrafts]; len(bytes.TrimSpace(data)) > 0 {
		var recs []draftRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return state, fmt.Errorf("drafts: %w", err)
		}
		for _, rec := range recs {
			content := decodeContent(rec.ContentType, rec.Text, rec.FileID, log.With().Int("draft", rec.ID).Logger())
			state.Drafts = append(state.Drafts, domain.Draft{ID: rec.ID, Content: content, TargetIDs: rec.TargetIDs, Accounts: rec.Accounts})
		}
	}

	if data := docs[CollectionStats]; len(bytes.TrimSpace(data)) > 0 {
		var rec struct {
			General  generalStatsRecord            `json:"general"`
			Accounts map[string]accountStatsRecord `json:"accounts"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return state, fmt.Errorf("stats: %w", err)
		}
		state.Stats.Sent = rec.General.Sent
		if rec.General.LastSend != nil {
			if t, err := parseTime(*rec.General.LastSend); err == nil {
				state.Stats.LastSend = t
			}
		}
		for name, acc := range rec.Accounts {
			stats := domain.AccountStats{Sent: acc.Sent}
			for _, h := range acc.History {
				t, _ := parseTime(h.Time)
				stats.History = append(stats.History, domain.SendRecord{Time: t, Target: h.Target, Text: h.Text})
			}
			state.Stats.Accounts[name] = stats
		}
	}
	return state, nil
}

func decodeTask(rec taskRecord, log zerolog.Logger) (domain.ScheduledTask, error) {
	due, err := parseTime(rec.Time)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	log = log.With().Str("task", id).Str("target", rec.TargetID).Logger()
	content := decodeContent(rec.ContentType, rec.Text, rec.FileID, log)
	button, err := decodeMarkup(rec.ReplyMarkup)
	if err != nil {
		log.Warn().Err(err).Msg("кнопка задачи не распознана, задача сохранена без кнопки")
		button = nil
	}
	return domain.ScheduledTask{ID: id, Due: due, TargetID: rec.TargetID, Content: content, Button: button, Accounts: rec.Accounts}, nil
}

// decodeContent восстанавливает содержимое. Медиа без file_id или неизвестного
// типа отправляется как текст.
func decodeContent(kind, body, ref string, log zerolog.Logger) domain.Content {
	content, err := domain.NewContent(domain.ContentKind(kind), body, ref)
	if err != nil {
		log.Warn().Err(err).Str("content_type", kind).Msg("содержимое загружено как текст")
		return domain.Text{Text: body}
	}
	return content
}

// decodeMarkup принимает разметку объектом или строкой с JSON внутри.
func decodeMarkup(raw json.RawMessage) (*domain.Button, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("reply_markup: %w", err)
		}
		raw = []byte(inner)
	}
	var markup markupRecord
	if err := json.Unmarshal(raw, &markup); err != nil {
		return nil, fmt.Errorf("reply_markup: %w", err)
	}
	for _, row := range markup.InlineKeyboard {
		for _, b := range row {
			button, err := domain.NewButton(b.Text, b.URL)
			if err != nil {
				return nil, err
			}
			return &button, nil
		}
	}
	return nil, nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.TimeLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("время %q: %w", raw, domain.ErrInvalidTime)
	}
	return t, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
