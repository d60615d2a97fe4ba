package calibration

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Source describes where a named table comes from.
type Source struct {
	Name   string
	Path   string
	Policy Policy
}

// Set is a group of named tables.
type Set struct {
	tables map[string]*Table
	errs   map[string]error
}

// LoadSet loads every source. A failing source is logged and recorded; it
// does not stop the others from loading.
func LoadSet(sources []Source) *Set {
	s := &Set{
		tables: map[string]*Table{},
		errs:   map[string]error{},
	}
	for _, src := range sources {
		t, err := LoadFile(src.Name, src.Path, src.Policy)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"table": src.Name,
				"path":  src.Path,
			}).Errorf("failed to load calibration: %v", err)
			s.errs[src.Name] = err
			continue
		}
		s.tables[src.Name] = t
	}
	return s
}

// NewSet wraps already built tables.
func NewSet(tables ...*Table) *Set {
	s := &Set{
		tables: map[string]*Table{},
		errs:   map[string]error{},
	}
	for _, t := range tables {
		s.tables[t.Name()] = t
	}
	return s
}

// Get returns the named table, or nil if it is absent or failed to load.
func (s *Set) Get(name string) *Table {
	if s == nil {
		return nil
	}
	return s.tables[name]
}

// Err returns the load error of the named table, if any.
func (s *Set) Err(name string) error {
	if s == nil {
		return nil
	}
	return s.errs[name]
}

// Names returns the names of the loaded tables, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	ret := make([]string, 0, len(s.tables))
	for k := range s.tables {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
