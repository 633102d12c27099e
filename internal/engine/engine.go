// Package engine - контракт с движком генерации и деплоя.
//
// Движок принимает заявку (Submit) синхронно, а результат сообщает позже
// через Reporter событиями жизненного цикла.
package engine

import (
	"context"

	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
)

type Mode string

const (
	ModeGenerate   Mode = "generate"
	ModeRegenerate Mode = "regenerate"
)

// Submission - заявка на генерацию.
type Submission struct {
	ProjectID   string      `json:"project_id"`
	Mode        Mode        `json:"mode"`
	CallbackURL string      `json:"callback_url,omitempty"`
	Definition  dsl.Project `json:"definition"`
}

type Engine interface {
	// Submit возвращается после того, как движок принял заявку.
	Submit(ctx context.Context, s Submission) error
}

// Report - асинхронный отчёт движка.
type Report struct {
	Event  lifecycle.Event `json:"event"`
	Detail string          `json:"detail,omitempty"`
}

type Reporter interface {
	ReportStatus(ctx context.Context, projectID string, r Report) error
}
