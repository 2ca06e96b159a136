package domain

// State снимок всех коллекций, которым обмениваются хранилище и персистентность.
type State struct {
	Accounts []Account
	Targets  []Target
	Drafts   []Draft
	Tasks    []ScheduledTask
	Stats    Stats
}

// Clone возвращает глубокую копию снимка.
func (s State) Clone() State {
	out := State{
		Accounts: append([]Account(nil), s.Accounts...),
		Targets:  make([]Target, len(s.Targets)),
		Drafts:   make([]Draft, len(s.Drafts)),
		Tasks:    make([]ScheduledTask, len(s.Tasks)),
		Stats:    s.Stats.Clone(),
	}
	for i, t := range s.Targets {
		t.AssignedAccounts = append([]string(nil), t.AssignedAccounts...)
		out.Targets[i] = t
	}
	for i, d := range s.Drafts {
		d.TargetIDs = append([]string(nil), d.TargetIDs...)
		d.Accounts = append([]string(nil), d.Accounts...)
		out.Drafts[i] = d
	}
	for i, task := range s.Tasks {
		out.Tasks[i] = task.Clone()
	}
	return out
}

// Clone копирует задачу вместе со срезами и кнопкой.
func (t ScheduledTask) Clone() ScheduledTask {
	t.Accounts = append([]string(nil), t.Accounts...)
	if t.Button != nil {
		b := *t.Button
		t.Button = &b
	}
	return t
}
