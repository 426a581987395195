package monitors

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/models"
)

// LogSource names one watched log file.
type LogSource struct {
	Name string
	Path string
}

// LogScanner tails configured log files from a per-source byte cursor. Write
// events from fsnotify trigger an immediate incremental read; the poll ticker
// is the fallback when watches are unavailable. A shrinking file means
// rotation and resets the cursor to zero.
type LogScanner struct {
	logger       *slog.Logger
	matcher      *classify.Matcher
	submitter    Submitter
	sources      []LogSource
	pollInterval time.Duration
	now          func() time.Time

	cursors map[string]int64
}

// NewLogScanner constructs a LogScanner over the given sources.
func NewLogScanner(logger *slog.Logger, matcher *classify.Matcher, submitter Submitter,
	sources []LogSource, pollInterval time.Duration) *LogScanner {

	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &LogScanner{
		logger:       logger,
		matcher:      matcher,
		submitter:    submitter,
		sources:      sources,
		pollInterval: pollInterval,
		now:          time.Now,
		cursors:      make(map[string]int64),
	}
}

// Name implements Monitor.
func (s *LogScanner) Name() string { return "log-scan" }

// Run implements Monitor.
func (s *LogScanner) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling only", slog.Any("error", err))
	} else {
		defer watcher.Close()
		for _, src := range s.sources {
			if err := watcher.Add(src.Path); err != nil {
				s.logger.Warn("watch failed, relying on poll",
					slog.String("path", src.Path),
					slog.Any("error", err))
			}
		}
	}

	// Existing content predates the engine; start cursors at current EOF.
	for _, src := range s.sources {
		if info, err := os.Stat(src.Path); err == nil {
			s.cursors[src.Path] = info.Size()
		}
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanAll(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.scanPath(ctx, event.Name)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("watch error", slog.Any("error", err))
		}
	}
}

// ScanAll performs one incremental read of every source.
func (s *LogScanner) ScanAll(ctx context.Context) {
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return
		}
		s.scanSource(ctx, src)
	}
}

func (s *LogScanner) scanPath(ctx context.Context, path string) {
	for _, src := range s.sources {
		if src.Path == path {
			s.scanSource(ctx, src)
			return
		}
	}
}

// scanSource reads complete lines added since the cursor and submits each as
// a signal. A partial trailing line stays unread until its newline arrives.
func (s *LogScanner) scanSource(ctx context.Context, src LogSource) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return
	}

	cursor := s.cursors[src.Path]
	if info.Size() < cursor {
		s.logger.Info("log rotation detected, resetting cursor",
			slog.String("source", src.Name))
		cursor = 0
	}
	if info.Size() == cursor {
		s.cursors[src.Path] = cursor
		return
	}

	f, err := os.Open(src.Path)
	if err != nil {
		s.logger.Warn("log source unreadable",
			slog.String("source", src.Name),
			slog.Any("error", err))
		return
	}
	defer f.Close()

	if _, err := f.Seek(cursor, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	for {
		if ctx.Err() != nil {
			break
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial line without newline; re-read next pass.
			break
		}
		cursor += int64(len(line))

		sig := models.Signal{
			Timestamp: s.now(),
			Origin:    src.Name,
			RawText:   strings.TrimRight(line, "\r\n"),
		}
		submitSignal(s.logger, s.matcher, s.submitter, s.Name(), sig, models.SourceLogScan, nil, nil)
	}
	s.cursors[src.Path] = cursor
}
