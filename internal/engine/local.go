package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"lambra/internal/generator"
	"lambra/internal/lifecycle"
	"lambra/internal/logger"
)

const manifestName = "artifacts.json"

// Local - встроенный движок: рендерит артефакты в рабочий каталог
// (<workspace>/<namespace>/...) в фоне и сообщает результат через Reporter.
// Деплой не выполняет: успешная генерация переводит проект в active.
type Local struct {
	ws *Workspace

	mu       sync.RWMutex
	reporter Reporter
	wg       sync.WaitGroup
}

func NewLocal(root string) *Local {
	return &Local{ws: &Workspace{Root: root}}
}

// SetReporter - получатель отчётов (обычно gateway, создаётся позже движка).
func (l *Local) SetReporter(r Reporter) {
	l.mu.Lock()
	l.reporter = r
	l.mu.Unlock()
}

func (l *Local) getReporter() Reporter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reporter
}

func (l *Local) Submit(_ context.Context, s Submission) error {
	rep := l.getReporter()
	if rep == nil {
		return errors.New("local engine: reporter is not configured")
	}
	if s.Definition.Namespace == "" {
		return errors.New("local engine: definition has no namespace")
	}
	if err := l.ws.ensureDir(l.ws.Root); err != nil {
		return fmt.Errorf("local engine: workspace: %w", err)
	}

	l.wg.Add(1)
	go l.run(rep, s)
	return nil
}

func (l *Local) run(rep Reporter, s Submission) {
	defer l.wg.Done()
	log := logger.WithField("project_id", s.ProjectID).WithField("mode", s.Mode)
	started := time.Now()

	report := Report{Event: lifecycle.GenerationSucceeded}
	stored, err := l.render(s)
	if err != nil {
		report = Report{Event: lifecycle.GenerationFailed, Detail: err.Error()}
		log.WithError(err).Warnf("generation failed")
	} else {
		log.Infof("generated %d artifacts in %s", len(stored), time.Since(started).Round(time.Millisecond))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rep.ReportStatus(ctx, s.ProjectID, report); err != nil {
		log.WithError(err).Errorf("status report %s failed", report.Event)
	}
}

func (l *Local) render(s Submission) ([]Stored, error) {
	ns := s.Definition.Namespace
	if s.Mode == ModeRegenerate {
		if err := l.ws.Clear(ns); err != nil {
			return nil, fmt.Errorf("discard previous artifacts: %w", err)
		}
	}
	arts, err := generator.Project(s.Definition)
	if err != nil {
		return nil, err
	}
	stored := make([]Stored, 0, len(arts))
	for _, a := range arts {
		st, err := l.ws.PutString(path.Join(ns, a.Path), a.Content)
		if err != nil {
			return nil, err
		}
		stored = append(stored, st)
	}
	manifest, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, err
	}
	if _, err := l.ws.PutString(path.Join(ns, manifestName), string(manifest)+"\n"); err != nil {
		return nil, err
	}
	return stored, nil
}

// Wait дожидается фоновых генераций (остановка сервера, тесты).
func (l *Local) Wait() { l.wg.Wait() }

// ArtifactPath - путь к файлу артефакта проекта.
func (l *Local) ArtifactPath(namespace, key string) (string, error) {
	return l.ws.Path(path.Join(namespace, key))
}
