package reports

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-ir/internal/models"
)

const (
	escalationPrefix = "escalation:"
	reportPrefix     = "report:"
	narrativePrefix  = "narrative:"
	emittedPrefix    = "emitted:"
)

// EscalationKey is the journal key for an escalation notice.
func EscalationKey(incidentID string) string {
	return escalationPrefix + incidentID
}

// ReportKey is the journal key for a closure report.
func ReportKey(reportID string) string {
	return reportPrefix + reportID
}

// BadgerSink journals payloads in an embedded badger store. A payload is
// written before delivery and marked once delivered, so Unemitted returns
// exactly the set lost in flight during a crash.
type BadgerSink struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerSink opens the journal at dir, or fully in memory for tests and
// local development.
func NewBadgerSink(logger *slog.Logger, dir string, inMemory bool) (*BadgerSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithInMemory(inMemory)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open report journal: %w", err)
	}
	return &BadgerSink{db: db, logger: logger}, nil
}

// Save implements Sink.
func (s *BadgerSink) Save(env Envelope) error {
	var payload any
	switch {
	case env.Notice != nil:
		payload = env.Notice
	case env.Report != nil:
		payload = env.Report
	default:
		return fmt.Errorf("envelope %s carries no payload", env.Key)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(env.Key), data); err != nil {
			return err
		}
		// Closure reports get a human-readable rendering next to the
		// structured record.
		if env.Report != nil {
			narrative := RenderNarrative(*env.Report)
			return txn.Set([]byte(narrativePrefix+env.Report.ReportID), []byte(narrative))
		}
		return nil
	})
}

// MarkEmitted implements Sink.
func (s *BadgerSink) MarkEmitted(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(emittedPrefix+key), []byte{1})
	})
}

// Unemitted implements Sink: journalled payloads without an emitted marker.
func (s *BadgerSink) Unemitted() ([]Envelope, error) {
	var pending []Envelope

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, emittedPrefix) {
				continue
			}
			if _, err := txn.Get([]byte(emittedPrefix + key)); err == nil {
				continue
			}

			env := Envelope{Key: key}
			decodeErr := item.Value(func(val []byte) error {
				switch {
				case strings.HasPrefix(key, escalationPrefix):
					env.Kind = KindEscalation
					env.Notice = &models.EscalationNotice{}
					return json.Unmarshal(val, env.Notice)
				case strings.HasPrefix(key, reportPrefix):
					env.Kind = KindReport
					env.Report = &models.IncidentReport{}
					return json.Unmarshal(val, env.Report)
				default:
					return nil
				}
			})
			if decodeErr != nil {
				s.logger.Warn("skipping undecodable journal entry",
					slog.String("key", key),
					slog.Any("error", decodeErr))
				continue
			}
			if env.Kind != "" {
				pending = append(pending, env)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan report journal: %w", err)
	}
	return pending, nil
}

// Reports returns all journalled closure reports, for the operator API.
func (s *BadgerSink) Reports() ([]models.IncidentReport, error) {
	var out []models.IncidentReport

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reportPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var report models.IncidentReport
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &report)
			})
			if err != nil {
				continue
			}
			out = append(out, report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	return out, nil
}

// Close implements Sink.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}
