package domain

// Operators список Telegram ID, которым разрешено управлять ботом.
// Пустой список разрешает доступ всем.
type Operators struct {
	ids map[int64]struct{}
}

// NewOperators создаёт список операторов.
func NewOperators(ids []int64) Operators {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Operators{ids: set}
}

// Allowed сообщает, может ли пользователь управлять ботом.
func (o Operators) Allowed(userID int64) bool {
	if len(o.ids) == 0 {
		return true
	}
	_, ok := o.ids[userID]
	return ok
}
