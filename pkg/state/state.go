// Package state persists the domain watchlist for the expiration monitor
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyMonitored indicates a duplicate add; the existing record is untouched.
	ErrAlreadyMonitored = errors.New("domain already monitored")
	// ErrNotFound indicates a remove or lookup for an unknown domain.
	ErrNotFound = errors.New("domain not monitored")
	// ErrInvalidDomain indicates a name that does not look like a registrable domain.
	ErrInvalidDomain = errors.New("invalid domain name")
)

var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// DomainRecord is one entry in the watchlist.
type DomainRecord struct {
	Name                string     `json:"name"`
	AddedAt             time.Time  `json:"added_at"`
	LastCheckedAt       time.Time  `json:"last_checked_at,omitzero"`
	LastKnownExpiration *time.Time `json:"last_known_expiration,omitempty"`
	Registrar           string     `json:"registrar,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures,omitempty"`
	FiredThresholds     []int      `json:"fired_thresholds,omitempty"`
	LastExpiredAlert    *time.Time `json:"last_expired_alert,omitempty"`
	AvailableAlerted    bool       `json:"available_alerted,omitempty"`
}

// HasFired reports whether the given threshold already alerted for the
// current expiration cycle.
func (r *DomainRecord) HasFired(threshold int) bool {
	for _, t := range r.FiredThresholds {
		if t == threshold {
			return true
		}
	}
	return false
}

// MarkFired records a threshold as alerted, keeping the set ascending.
func (r *DomainRecord) MarkFired(threshold int) {
	if r.HasFired(threshold) {
		return
	}
	r.FiredThresholds = append(r.FiredThresholds, threshold)
	sort.Ints(r.FiredThresholds)
}

// ClearFired empties the fired set, starting a fresh expiration cycle.
func (r *DomainRecord) ClearFired() {
	r.FiredThresholds = nil
	r.LastExpiredAlert = nil
}

// Normalize lowercases a domain name and strips surrounding space and
// any trailing dot.
func Normalize(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimSuffix(name, ".")
}

// Valid reports whether name looks like a registrable domain. The name
// must already be normalized.
func Valid(name string) bool {
	return len(name) <= 253 && domainPattern.MatchString(name)
}

// watchlistFile is the on-disk shape of the watchlist.
type watchlistFile struct {
	Domains []*DomainRecord `json:"domains"`
}

// Manager owns the watchlist: an in-memory record set backed by a single
// JSON file. It is not safe for concurrent mutation; the scheduler
// mutates records one logical step at a time.
type Manager struct {
	path    string
	log     *logrus.Logger
	records map[string]*DomainRecord
}

// NewManager creates a manager for the watchlist at path.
func NewManager(path string, log *logrus.Logger) *Manager {
	return &Manager{
		path:    path,
		log:     log,
		records: make(map[string]*DomainRecord),
	}
}

// Load reads the watchlist from disk. A missing file yields an empty
// watchlist; a corrupt file is an error, because silently starting fresh
// would drop alert-dedup state and cause duplicate alert storms.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Debugf("No watchlist at %s, starting empty", m.path)
			return nil
		}
		return fmt.Errorf("read watchlist %s: %w", m.path, err)
	}

	var file watchlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse watchlist %s: %w", m.path, err)
	}

	m.records = make(map[string]*DomainRecord, len(file.Domains))
	for _, rec := range file.Domains {
		rec.Name = Normalize(rec.Name)
		m.records[rec.Name] = rec
	}
	return nil
}

// Save writes the watchlist to disk. The file is written to a temporary
// sibling first and renamed into place so a crash mid-write cannot leave
// a truncated watchlist.
func (m *Manager) Save() error {
	file := watchlistFile{Domains: m.List()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watchlist: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".watchlist-*.json")
	if err != nil {
		return fmt.Errorf("create temp watchlist: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write watchlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close watchlist: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace watchlist %s: %w", m.path, err)
	}
	return nil
}

// Add registers a new domain. Adding a name that is already monitored is
// a no-op that reports ErrAlreadyMonitored, never a silent overwrite.
func (m *Manager) Add(raw string, now time.Time) (*DomainRecord, error) {
	name := Normalize(raw)
	if !Valid(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	if _, exists := m.records[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMonitored, name)
	}

	rec := &DomainRecord{Name: name, AddedAt: now}
	m.records[name] = rec
	return rec, nil
}

// Remove deletes a domain from the watchlist.
func (m *Manager) Remove(raw string) error {
	name := Normalize(raw)
	if _, exists := m.records[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.records, name)
	return nil
}

// Get returns the record for a normalized domain name, or nil.
func (m *Manager) Get(name string) *DomainRecord {
	return m.records[Normalize(name)]
}

// List returns all records sorted by name.
func (m *Manager) List() []*DomainRecord {
	out := make([]*DomainRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of monitored domains.
func (m *Manager) Len() int {
	return len(m.records)
}
