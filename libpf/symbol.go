// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/android-la64/platform-system-extras/libpf"

import "errors"

// ErrSymbolNotFound is returned when a requested symbol could not be located.
var ErrSymbolNotFound = errors.New("symbol not found")

// SymbolValue represents the value associated with a symbol - either an
// offset or an absolute address, depending on the ELF file's type.
type SymbolValue uint64

// SymbolName represents the name of a symbol.
type SymbolName string

// SymbolValueInvalid is returned by SymbolMap functions when the symbol
// could not be found.
const SymbolValueInvalid = SymbolValue(0)

// Symbol describes one entry of an ELF symbol table.
type Symbol struct {
	Name    SymbolName
	Address SymbolValue
	Size    uint64
}

// SymbolFinder implements a way to find symbol data.
type SymbolFinder interface {
	LookupSymbol(name SymbolName) (*Symbol, error)
	LookupSymbolAddress(name SymbolName) (SymbolValue, error)
}

var _ SymbolFinder = &SymbolMap{}

// SymbolMap is a simple collection of symbols supporting name lookup and
// iteration in insertion order.
type SymbolMap struct {
	byName  map[SymbolName]*Symbol
	ordered []Symbol
}

// NewSymbolMap returns an empty SymbolMap with capacity preallocated.
func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{ordered: make([]Symbol, 0, capacity)}
}

// Add inserts a symbol. Finalize must be called before lookups are used.
func (m *SymbolMap) Add(s Symbol) {
	m.ordered = append(m.ordered, s)
}

// Finalize builds the name index after all Add calls are done.
func (m *SymbolMap) Finalize() {
	m.byName = make(map[SymbolName]*Symbol, len(m.ordered))
	for i := range m.ordered {
		m.byName[m.ordered[i].Name] = &m.ordered[i]
	}
}

// LookupSymbol returns the symbol with the given name.
func (m *SymbolMap) LookupSymbol(name SymbolName) (*Symbol, error) {
	if s, ok := m.byName[name]; ok {
		return s, nil
	}
	return nil, ErrSymbolNotFound
}

// LookupSymbolAddress returns the address of the symbol with the given name.
func (m *SymbolMap) LookupSymbolAddress(name SymbolName) (SymbolValue, error) {
	s, err := m.LookupSymbol(name)
	if err != nil {
		return SymbolValueInvalid, err
	}
	return s.Address, nil
}

// All returns every known symbol, in insertion order.
func (m *SymbolMap) All() []Symbol {
	return m.ordered
}
