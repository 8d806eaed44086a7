// Package file loads quiz content from a directory of YAML files and keeps it
// fresh with fsnotify, so a room can be run without a database.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"quizroom/internal/domain"
)

// QuizLoader serves quizzes parsed from *.yaml / *.yml files in one directory.
type QuizLoader struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	quizzes map[int64]domain.Quiz
}

func NewQuizLoader(dir string, logger *slog.Logger) (*QuizLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &QuizLoader{dir: dir, logger: logger, quizzes: make(map[int64]domain.Quiz)}
	if _, err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *QuizLoader) LoadQuiz(_ context.Context, quizID int64) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	quiz, ok := l.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

// Reload re-reads the directory and returns the ids of quizzes that were
// added, removed or present before and after. Files that fail to parse are
// skipped and logged.
func (l *QuizLoader) Reload() ([]int64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read quiz dir: %w", err)
	}

	next := make(map[int64]domain.Quiz)
	for _, entry := range entries {
		if entry.IsDir() || !isQuizFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		quiz, err := parseQuizFile(path)
		if err != nil {
			l.logger.Warn("skipping quiz file", "path", path, "err", err)
			continue
		}
		next[quiz.ID] = quiz
	}

	l.mu.Lock()
	touched := make([]int64, 0, len(next)+len(l.quizzes))
	for id := range l.quizzes {
		if _, ok := next[id]; !ok {
			touched = append(touched, id)
		}
	}
	for id := range next {
		touched = append(touched, id)
	}
	l.quizzes = next
	l.mu.Unlock()

	l.logger.Debug("quiz files loaded", "dir", l.dir, "quizzes", len(next))
	return touched, nil
}

// Watch reloads the directory on every change until ctx is done. onChange is
// called with the ids returned by Reload.
func (l *QuizLoader) Watch(ctx context.Context, onChange func(quizIDs []int64)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch quiz dir: %w", err)
	}
	l.logger.Info("watching quiz files", "dir", l.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isQuizFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ids, err := l.Reload()
			if err != nil {
				l.logger.Error("quiz reload failed", "err", err)
				continue
			}
			l.logger.Info("quiz files reloaded", "file", filepath.Base(event.Name), "op", event.Op.String())
			if onChange != nil {
				onChange(ids)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("quiz watcher error", "err", err)
		}
	}
}

func isQuizFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func parseQuizFile(path string) (domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Quiz{}, err
	}
	var quiz domain.Quiz
	if err := yaml.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	if quiz.ID <= 0 {
		return domain.Quiz{}, fmt.Errorf("quiz id must be positive")
	}
	for i := range quiz.Questions {
		quiz.Questions[i].QuizID = quiz.ID
		for j := range quiz.Questions[i].Options {
			quiz.Questions[i].Options[j].QuestionID = quiz.Questions[i].ID
		}
	}
	return quiz, nil
}
