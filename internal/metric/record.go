package metric

import (
	"fmt"
	"math"
)

type Category string

const (
	CategoryHealth  Category = "health"
	CategoryThermal Category = "thermal"
	CategoryPower   Category = "power"
	CategoryMemory  Category = "memory"
	CategoryStorage Category = "storage"
)

// Categories is the fixed order in which a collection pass visits categories.
var Categories = []Category{
	CategoryHealth,
	CategoryThermal,
	CategoryPower,
	CategoryMemory,
	CategoryStorage,
}

func ParseCategory(value string) (Category, error) {
	for _, category := range Categories {
		if string(category) == value {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", value)
}

type Unit string

const (
	UnitNone        Unit = ""
	UnitCelsius     Unit = "celsius"
	UnitRPM         Unit = "rpm"
	UnitPercent     Unit = "percent"
	UnitWatts       Unit = "watts"
	UnitMegabytes   Unit = "megabytes"
	UnitGigabytes   Unit = "gigabytes"
	UnitSeconds     Unit = "seconds"
	UnitMicrojoules Unit = "microjoules"
	UnitHours       Unit = "hours"
	UnitMegahertz   Unit = "mhz"
	UnitCount       Unit = "count"
)

type FieldKind int

const (
	KindFloat FieldKind = iota
	KindInt
	KindBool
)

type Field struct {
	Name  string
	Kind  FieldKind
	Float float64
	Int   int64
	Bool  bool
	Unit  Unit
}

func Float(name string, value float64, unit Unit) Field {
	return Field{Name: name, Kind: KindFloat, Float: value, Unit: unit}
}

func Int(name string, value int64, unit Unit) Field {
	return Field{Name: name, Kind: KindInt, Int: value, Unit: unit}
}

func Bool(name string, value bool) Field {
	return Field{Name: name, Kind: KindBool, Bool: value}
}

// Number returns the field as a float64. Booleans are 0 or 1.
func (f Field) Number() float64 {
	switch f.Kind {
	case KindInt:
		return float64(f.Int)
	case KindBool:
		if f.Bool {
			return 1
		}
		return 0
	default:
		return f.Float
	}
}

// Valid reports whether the field carries an encodable number.
func (f Field) Valid() bool {
	if f.Name == "" {
		return false
	}
	if f.Kind == KindFloat && (math.IsNaN(f.Float) || math.IsInf(f.Float, 0)) {
		return false
	}
	return true
}

type Tag struct {
	Key   string
	Value string
}

// Condition is a vendor status attached to a record. Raw keeps the
// original text, Status holds the normalized value.
type Condition struct {
	Name   string
	Raw    string
	Status Status
}

type Record struct {
	Key        string
	Kind       string
	Name       string
	ID         string
	Category   Category
	Source     string
	Fields     []Field
	Conditions []Condition
	Tags       []Tag
	Shadowed   []string
}

func (r *Record) AddField(field Field) {
	for i := range r.Fields {
		if r.Fields[i].Name == field.Name {
			r.Fields[i] = field
			return
		}
	}
	r.Fields = append(r.Fields, field)
}

func (r *Record) AddTag(key, value string) {
	if value == "" {
		return
	}
	for i := range r.Tags {
		if r.Tags[i].Key == key {
			r.Tags[i].Value = value
			return
		}
	}
	r.Tags = append(r.Tags, Tag{Key: key, Value: value})
}

func (r *Record) AddCondition(name, raw string) {
	for i := range r.Conditions {
		if r.Conditions[i].Name == name {
			r.Conditions[i].Raw = raw
			return
		}
	}
	r.Conditions = append(r.Conditions, Condition{Name: name, Raw: raw})
}

func (r Record) Field(name string) (Field, bool) {
	for _, field := range r.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

func (r Record) Tag(key string) (string, bool) {
	for _, tag := range r.Tags {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

func (r Record) Condition(name string) (Condition, bool) {
	for _, condition := range r.Conditions {
		if condition.Name == name {
			return condition, true
		}
	}
	return Condition{}, false
}

// Value returns the primary numeric reading of the record, which is the
// first valid field.
func (r Record) Value() (float64, bool) {
	for _, field := range r.Fields {
		if field.Valid() {
			return field.Number(), true
		}
	}
	return 0, false
}

// Status returns the normalized "status" condition, falling back to "health".
func (r Record) Status() (Status, bool) {
	if condition, ok := r.Condition("status"); ok {
		return condition.Status, true
	}
	if condition, ok := r.Condition("health"); ok {
		return condition.Status, true
	}
	return StatusUnknown, false
}

func (r Record) Clone() Record {
	clone := r
	clone.Fields = append([]Field(nil), r.Fields...)
	clone.Conditions = append([]Condition(nil), r.Conditions...)
	clone.Tags = append([]Tag(nil), r.Tags...)
	clone.Shadowed = append([]string(nil), r.Shadowed...)
	return clone
}
