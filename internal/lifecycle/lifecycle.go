// Package lifecycle - машина состояний проекта.
package lifecycle

import (
	"fmt"
	"strings"
)

type Status string

const (
	Pending    Status = "pending"
	Generating Status = "generating"
	Active     Status = "active"
	Failed     Status = "failed"
	Deploying  Status = "deploying"
	Success    Status = "success"
	Archived   Status = "archived"
)

// Statuses - все статусы в порядке жизненного цикла.
var Statuses = []Status{Pending, Generating, Active, Failed, Deploying, Success, Archived}

type Event string

const (
	Generate            Event = "generate"
	Regenerate          Event = "regenerate"
	GenerationSucceeded Event = "generation_succeeded"
	GenerationFailed    Event = "generation_failed"
	DeployStarted       Event = "deploy_started"
	DeploySucceeded     Event = "deploy_succeeded"
	DeployFailed        Event = "deploy_failed"
	Archive             Event = "archive"
)

// таблица переходов: событие -> (из -> в)
var transitions = map[Event]map[Status]Status{
	Generate: {
		Pending: Generating,
		Failed:  Generating,
	},
	Regenerate: {
		Pending: Generating,
		Active:  Generating,
		Failed:  Generating,
		Success: Generating,
	},
	GenerationSucceeded: {Generating: Active},
	GenerationFailed:    {Generating: Failed},
	DeployStarted: {
		Active:  Deploying,
		Success: Deploying,
	},
	DeploySucceeded: {Deploying: Success},
	DeployFailed:    {Deploying: Failed},
	Archive: {
		Pending: Archived,
		Active:  Archived,
		Failed:  Archived,
		Success: Archived,
	},
}

// IllegalTransitionError - событие недопустимо в текущем статусе.
type IllegalTransitionError struct {
	From  Status
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	if e.From.InFlight() && (e.Event == Generate || e.Event == Regenerate) {
		return fmt.Sprintf("generation already in flight (status %s)", e.From)
	}
	return fmt.Sprintf("cannot %s a project in status %s", e.Event, e.From)
}

// Next - чистая функция перехода.
func Next(from Status, ev Event) (Status, error) {
	if to, ok := transitions[ev][from]; ok {
		return to, nil
	}
	return from, &IllegalTransitionError{From: from, Event: ev}
}

// Allowed - события, допустимые из статуса.
func Allowed(from Status) []Event {
	var out []Event
	for _, ev := range []Event{Generate, Regenerate, GenerationSucceeded, GenerationFailed,
		DeployStarted, DeploySucceeded, DeployFailed, Archive} {
		if _, ok := transitions[ev][from]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// InFlight - идёт генерация или деплой; правки и повторный запуск запрещены.
func (s Status) InFlight() bool { return s == Generating || s == Deploying }

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// IsEngineEvent - события, которые присылает движок генерации/деплоя.
func (e Event) IsEngineEvent() bool {
	switch e {
	case GenerationSucceeded, GenerationFailed, DeployStarted, DeploySucceeded, DeployFailed:
		return true
	}
	return false
}

// IsFailure - событие означает отказ движка.
func (e Event) IsFailure() bool { return e == GenerationFailed || e == DeployFailed }
