package httpapi

import (
	"database/sql"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditEntry is one recorded mutating request.
type AuditEntry struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditSink receives every entry the ring accepts, best effort.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// AuditLog keeps the most recent mutating requests in memory and mirrors
// them to the configured sinks.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sinks   []AuditSink
}

// NewAuditLog creates an audit ring holding at most max entries. Nil sinks
// are ignored.
func NewAuditLog(max int, sinks ...AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	kept := make([]AuditSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &AuditLog{max: max, sinks: kept}
}

// record captures a served mutating request. Identity headers are stamped by
// the auth layer; unauthenticated rejections record as anonymous.
func (l *AuditLog) record(r *http.Request, status int) {
	l.add(AuditEntry{
		ID:         uuid.NewString(),
		Time:       time.Now().UTC(),
		User:       r.Header.Get("X-User-ID"),
		Role:       r.Header.Get("X-User-Role"),
		Path:       r.URL.Path,
		Method:     r.Method,
		Status:     status,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	for _, sink := range l.sinks {
		// Sinks are best effort.
		_ = sink.Write(entry)
	}
}

func (l *AuditLog) list() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) listLimit(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// fileAuditSink appends audit entries as JSONL via zerolog.
type fileAuditSink struct {
	log zerolog.Logger
}

// NewFileAuditSink opens an append-only JSONL audit file. An empty path
// yields a nil sink.
func NewFileAuditSink(path string) (AuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{log: zerolog.New(f)}, nil
}

func (s *fileAuditSink) Write(entry AuditEntry) error {
	s.log.Log().
		Str("id", entry.ID).
		Time("time", entry.Time).
		Str("user", entry.User).
		Str("role", entry.Role).
		Str("method", entry.Method).
		Str("path", entry.Path).
		Int("status", entry.Status).
		Str("remote_addr", entry.RemoteAddr).
		Str("user_agent", entry.UserAgent).
		Send()
	return nil
}

// postgresAuditSink mirrors audit entries into the progression_audit table.
type postgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink mirrors entries into postgres. A nil db yields a nil
// sink.
func NewPostgresAuditSink(db *sql.DB) AuditSink {
	if db == nil {
		return nil
	}
	return &postgresAuditSink{db: db}
}

func (s *postgresAuditSink) Write(entry AuditEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO progression_audit (id, at, username, role, method, path, status, remote_addr, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Time, entry.User, entry.Role, entry.Method, entry.Path, entry.Status, entry.RemoteAddr, entry.UserAgent,
	)
	return err
}
