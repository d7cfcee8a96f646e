// Package mapping defines the field mapping a transformation run applies: per
// destination fact column, which source column feeds it and how. Mappings
// arrive from an external proposer (an LLM call or a hand-written file), are
// possibly incomplete or inconsistent, and are validated exactly once at
// ingestion. After ingestion the engine never null-checks free-text again.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/verdantlabs/carbonetl/etl/pkg/schema"
)

// CalcMethod selects which fact columns are mandatory for a run: physical
// consumption quantities or monetary expenses.
type CalcMethod string

const (
	CalcConsumptionBased CalcMethod = "Consumption-based"
	CalcExpenseBased     CalcMethod = "Expense-based"
)

// ParseCalcMethod maps free text onto the two supported methods.
func ParseCalcMethod(s string) (CalcMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "consumption-based", "consumption":
		return CalcConsumptionBased, nil
	case "expense-based", "expenses-based", "expense":
		return CalcExpenseBased, nil
	default:
		return "", fmt.Errorf("mapping: unrecognized calculation method %q", s)
	}
}

// AdmissibleKinds returns the consumption kinds that can resolve an emission
// source under this calculation method.
func (m CalcMethod) AdmissibleKinds() []ConsumptionKind {
	if m == CalcConsumptionBased {
		return []ConsumptionKind{KindDistance, KindFuel, KindElectricity, KindHeating, KindDays}
	}
	return []ConsumptionKind{KindCurrency}
}

// Entry is the proposed mapping for one fact column. Every field is
// optional; the literals "null" and "" both mean absent.
type Entry struct {
	SourceColumn    string `json:"source_column"`
	Transformation  string `json:"transformation"`
	Relation        string `json:"relation"`
	ConsumptionType string `json:"consumption_type"`
}

// Mapping is the raw proposed mapping, keyed by fact column name.
type Mapping map[string]Entry

// ConsumptionKind is the closed enumeration of consumption types. The
// proposer emits free text; ingestion maps it onto this enum once.
type ConsumptionKind string

const (
	KindUnknown     ConsumptionKind = ""
	KindDistance    ConsumptionKind = "Distance"
	KindFuel        ConsumptionKind = "Fuel"
	KindElectricity ConsumptionKind = "Electricity"
	KindHeating     ConsumptionKind = "Heating"
	KindEnergy      ConsumptionKind = "Energy"
	KindDays        ConsumptionKind = "Days"
	KindCurrency    ConsumptionKind = "Currency"
)

var consumptionKinds = map[string]ConsumptionKind{
	"distance":    KindDistance,
	"fuel":        KindFuel,
	"electricity": KindElectricity,
	"heating":     KindHeating,
	"energy":      KindEnergy,
	"days":        KindDays,
	"currency":    KindCurrency,
}

// ParseConsumptionKind maps free text onto the closed enum,
// case-insensitively.
func ParseConsumptionKind(s string) (ConsumptionKind, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return KindUnknown, nil
	}
	if k, ok := consumptionKinds[strings.ToLower(s)]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("mapping: unrecognized consumption type %q", s)
}

// Defect records one problem found while ingesting a proposed mapping.
// Defects are soft: the run proceeds with the normalized mapping, and the
// defect list travels alongside for reporting.
type Defect struct {
	FactColumn string
	Reason     string
}

func (d Defect) String() string {
	return fmt.Sprintf("%s: %s", d.FactColumn, d.Reason)
}

// Validated is a mapping after ingestion: absent-value literals normalized
// away, consumption types resolved to the closed enum, and a deterministic
// iteration order fixed (fact-schema column order first, then remaining
// columns sorted). "First match in mapping order" is reproducible with it.
type Validated struct {
	Entries map[string]Entry
	Kinds   map[string]ConsumptionKind
	Order   []string
	Defects []Defect
}

// Validate ingests a raw mapping against the fact schema and the source
// table's column set. It never fails: structural problems become Defects.
// Syntactic problems (the mapping not being decodable JSON at all) are the
// proposer's to surface as fatal.
func Validate(raw Mapping, factSchema schema.Table, sourceColumns []string) *Validated {
	v := &Validated{
		Entries: make(map[string]Entry, len(raw)),
		Kinds:   make(map[string]ConsumptionKind, len(raw)),
	}
	srcCols := make(map[string]struct{}, len(sourceColumns))
	for _, c := range sourceColumns {
		srcCols[c] = struct{}{}
	}

	for fact, e := range raw {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			v.Defects = append(v.Defects, Defect{FactColumn: "(empty)", Reason: "empty fact column name"})
			continue
		}
		e.SourceColumn = normalizeLiteral(e.SourceColumn)
		e.Transformation = normalizeLiteral(e.Transformation)
		e.Relation = normalizeLiteral(e.Relation)
		e.ConsumptionType = normalizeLiteral(e.ConsumptionType)

		// A proposed source column is not guaranteed to exist. Record the miss
		// and drop the reference so no downstream site has to re-check.
		// "user_input" is the proposer's marker for UI-supplied fixed values.
		if e.SourceColumn != "" && e.SourceColumn != "user_input" {
			if _, ok := srcCols[e.SourceColumn]; !ok {
				v.Defects = append(v.Defects, Defect{
					FactColumn: fact,
					Reason:     fmt.Sprintf("source column %q not present in source table", e.SourceColumn),
				})
				e.SourceColumn = ""
			}
		}

		kind, err := ParseConsumptionKind(e.ConsumptionType)
		if err != nil {
			v.Defects = append(v.Defects, Defect{FactColumn: fact, Reason: err.Error()})
		}
		v.Entries[fact] = e
		v.Kinds[fact] = kind
	}

	v.Order = iterationOrder(v.Entries, factSchema)
	return v
}

// SourceColumn returns the mapped, existence-checked source column for a
// fact column, or "" when none is usable.
func (v *Validated) SourceColumn(factColumn string) string {
	e, ok := v.Entries[factColumn]
	if !ok || e.SourceColumn == "user_input" {
		return ""
	}
	return e.SourceColumn
}

// Kind returns the resolved consumption kind for a fact column.
func (v *Validated) Kind(factColumn string) ConsumptionKind {
	return v.Kinds[factColumn]
}

// WriteFile persists a raw mapping as indented JSON for audit, creating the
// parent directory when needed.
func WriteFile(path string, m Mapping) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create mapping output dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads a previously saved (or hand-written) mapping.
func ReadFile(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return Decode(string(data))
}

func normalizeLiteral(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

func iterationOrder(entries map[string]Entry, factSchema schema.Table) []string {
	order := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, c := range factSchema.Columns {
		if _, ok := entries[c]; ok {
			order = append(order, c)
			seen[c] = struct{}{}
		}
	}
	rest := make([]string, 0, len(entries))
	for c := range entries {
		if _, ok := seen[c]; !ok {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
