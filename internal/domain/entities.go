package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout задаёт формат хранения времени (канонические часы UTC).
const TimeLayout = "2006-01-02 15:04:05"

// Account описывает исходящую идентичность: пользовательский MTProto-аккаунт.
// Живое подключение аккаунта не хранится в сущности, им владеет хранилище.
type Account struct {
	Name    string
	APIID   int
	APIHash string
	Phone   string
}

// TargetType различает получателей рассылки.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
)

// Target описывает получателя: пользователя по username или группу по chat_id.
type Target struct {
	Type             TargetType
	Username         string
	ChatID           int64
	AssignedAccounts []string
}

// UserTarget создаёт получателя-пользователя.
func UserTarget(username string) Target {
	return Target{Type: TargetUser, Username: strings.TrimPrefix(strings.TrimSpace(username), "@")}
}

// GroupTarget создаёт получателя-группу.
func GroupTarget(chatID int64) Target {
	return Target{Type: TargetGroup, ChatID: chatID}
}

// ID возвращает идентификатор вида user_<username> или group_<chat_id>.
func (t Target) ID() string {
	if t.Type == TargetGroup {
		return "group_" + strconv.FormatInt(t.ChatID, 10)
	}
	return "user_" + t.Username
}

// Display возвращает человекочитаемое имя получателя.
func (t Target) Display() string {
	if t.Type == TargetGroup {
		return fmt.Sprintf("Группа %d", t.ChatID)
	}
	return "@" + t.Username
}

// Recipient возвращает адрес для клиента платформы.
func (t Target) Recipient() Recipient {
	if t.Type == TargetGroup {
		return Recipient{ChatID: t.ChatID}
	}
	return Recipient{Username: t.Username}
}

// HasAccount сообщает, закреплён ли аккаунт за получателем.
func (t Target) HasAccount(name string) bool {
	for _, assigned := range t.AssignedAccounts {
		if assigned == name {
			return true
		}
	}
	return false
}

// Recipient адресует отправку: либо Username, либо ChatID.
type Recipient struct {
	Username string
	ChatID   int64
}

func (r Recipient) String() string {
	if r.Username != "" {
		return "@" + r.Username
	}
	return strconv.FormatInt(r.ChatID, 10)
}

// Draft хранит многоразовый шаблон сообщения.
type Draft struct {
	ID        int
	Content   Content
	TargetIDs []string
	Accounts  []string
}

// ScheduledTask описывает отложенную отправку.
// Пустой Accounts означает выбор аккаунтов по правилам резолвера.
type ScheduledTask struct {
	ID       string
	Due      time.Time
	TargetID string
	Content  Content
	Button   *Button
	Accounts []string
}

// IsDue сообщает, наступило ли время отправки.
func (t ScheduledTask) IsDue(now time.Time) bool {
	return !t.Due.After(now)
}
