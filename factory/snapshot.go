/*
Package factory provides document to Go snapshot conversion.

PURPOSE:
  Converts loosely typed flight documents (JSON or YAML) into a typed
  loadplan.Snapshot. This is the only place where untyped input becomes
  domain data: field presence, ranges and enumerations are checked here
  with go-playground/validator, and cross-references (duplicate ids, a
  position pointing at an unknown unit) are checked by building a State.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  flight: CX2025
  target_cg: 22            # optional
  ulds:
    - id: AKE1001CX
      weight: 1200
      volume: 4.3
      isPriority: false
      type: AKE            # AKE | AMA, optional
  positions:
    - id: 11L
      x: 8
      y: -1.2
      max_weight: 1587.5
      assigned_uld: null   # or a ULD id
      isFixed: false

  current_weight is accepted on positions and ignored: it is always derived
  from the assignment.

KEY FEATURES:
  - Strict decoding (unknown keys are rejected)
  - Flight code normalization (trim + upper-case)
  - Validation errors are *loadplan.Error of kind validation

USAGE:
  f := factory.NewSnapshotFactory()
  snap, err := f.Parse(data, factory.FormatYAML)

  // Embedded preset flights
  snaps, err := f.Presets()

SEE ALSO:
  - loadplan/types.go: Snapshot definition
  - presets.go: Embedded preset flights
  - store/sqlite/: Seeding from snapshots
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/load-engine/loadplan"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// SnapshotDocument is the document representation of a flight.
type SnapshotDocument struct {
	Flight    string             `json:"flight" yaml:"flight" validate:"required,flightcode"`
	TargetCG  *float64           `json:"target_cg,omitempty" yaml:"target_cg,omitempty"`
	ULDs      []ULDDocument      `json:"ulds" yaml:"ulds" validate:"dive"`
	Positions []PositionDocument `json:"positions" yaml:"positions" validate:"required,min=1,dive"`
}

// ULDDocument represents one load unit.
type ULDDocument struct {
	ID         string  `json:"id" yaml:"id" validate:"required"`
	Weight     float64 `json:"weight" yaml:"weight" validate:"gt=0"`
	Volume     float64 `json:"volume,omitempty" yaml:"volume,omitempty" validate:"gte=0"`
	IsPriority bool    `json:"isPriority,omitempty" yaml:"isPriority,omitempty"`
	Type       string  `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=AKE AMA"`
}

// PositionDocument represents one stowage position.
type PositionDocument struct {
	ID            string  `json:"id" yaml:"id" validate:"required"`
	X             float64 `json:"x" yaml:"x"`
	Y             float64 `json:"y" yaml:"y"`
	MaxWeight     float64 `json:"max_weight" yaml:"max_weight" validate:"gt=0"`
	CurrentWeight float64 `json:"current_weight,omitempty" yaml:"current_weight,omitempty"` // ignored
	AssignedULD   *string `json:"assigned_uld" yaml:"assigned_uld"`
	IsFixed       bool    `json:"isFixed,omitempty" yaml:"isFixed,omitempty"`
}

// Format names a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported document extension %q", filepath.Ext(path))
	}
}

// =============================================================================
// SNAPSHOT FACTORY
// =============================================================================

const op = "parse_snapshot"

// SnapshotFactory converts documents to snapshots.
type SnapshotFactory struct {
	validate *validator.Validate
}

// NewSnapshotFactory creates a new snapshot factory.
func NewSnapshotFactory() *SnapshotFactory {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report document keys, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("flightcode", func(fl validator.FieldLevel) bool {
		_, err := loadplan.NormalizeFlightCode(fl.Field().String())
		return err == nil
	})

	return &SnapshotFactory{validate: v}
}

// Parse decodes a document and converts it to a Snapshot.
func (f *SnapshotFactory) Parse(data []byte, format Format) (loadplan.Snapshot, error) {
	doc, err := f.Decode(data, format)
	if err != nil {
		return loadplan.Snapshot{}, err
	}
	return f.Build(doc)
}

// Decode decodes a document without validating it. Unknown keys are rejected.
func (f *SnapshotFactory) Decode(data []byte, format Format) (SnapshotDocument, error) {
	var doc SnapshotDocument

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return doc, invalid("failed to parse JSON document: %v", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return doc, invalid("failed to parse YAML document: %v", err)
		}
	default:
		return doc, invalid("unsupported document format %q", format)
	}
	return doc, nil
}

// Build validates a document and converts it to a Snapshot. The snapshot is
// checked by building a State from it, so a returned snapshot always loads.
func (f *SnapshotFactory) Build(doc SnapshotDocument) (loadplan.Snapshot, error) {
	if err := f.validate.Struct(doc); err != nil {
		return loadplan.Snapshot{}, describe(err)
	}

	code, err := loadplan.NormalizeFlightCode(doc.Flight)
	if err != nil {
		return loadplan.Snapshot{}, err
	}

	snap := loadplan.Snapshot{
		Flight: loadplan.Flight{Code: code},
		Units:  make([]loadplan.LoadUnit, 0, len(doc.ULDs)),
		Slots:  make([]loadplan.Slot, 0, len(doc.Positions)),
	}
	if doc.TargetCG != nil {
		target := *doc.TargetCG
		snap.Flight.TargetCG = &target
	}

	for _, u := range doc.ULDs {
		snap.Units = append(snap.Units, loadplan.LoadUnit{
			ID:       loadplan.UnitID(u.ID),
			Weight:   u.Weight,
			Volume:   u.Volume,
			Priority: u.IsPriority,
			Type:     loadplan.UnitType(u.Type),
		})
	}
	for _, p := range doc.Positions {
		slot := loadplan.Slot{
			ID:        loadplan.SlotID(p.ID),
			X:         p.X,
			Y:         p.Y,
			MaxWeight: p.MaxWeight,
			Fixed:     p.IsFixed,
		}
		if p.AssignedULD != nil {
			slot.AssignedUnit = loadplan.UnitID(*p.AssignedULD)
		}
		snap.Slots = append(snap.Slots, slot)
	}

	if _, err := loadplan.NewState(snap); err != nil {
		return loadplan.Snapshot{}, err
	}
	return snap, nil
}

// Document converts a Snapshot back to its document form.
func Document(snap loadplan.Snapshot) SnapshotDocument {
	doc := SnapshotDocument{
		Flight:    snap.Flight.Code,
		TargetCG:  snap.Flight.TargetCG,
		ULDs:      make([]ULDDocument, 0, len(snap.Units)),
		Positions: make([]PositionDocument, 0, len(snap.Slots)),
	}
	for _, u := range snap.Units {
		doc.ULDs = append(doc.ULDs, ULDDocument{
			ID:         string(u.ID),
			Weight:     u.Weight,
			Volume:     u.Volume,
			IsPriority: u.Priority,
			Type:       string(u.Type),
		})
	}
	for _, s := range snap.Slots {
		p := PositionDocument{
			ID:            string(s.ID),
			X:             s.X,
			Y:             s.Y,
			MaxWeight:     s.MaxWeight,
			CurrentWeight: s.CurrentWeight,
			IsFixed:       s.Fixed,
		}
		if !s.IsEmpty() {
			id := string(s.AssignedUnit)
			p.AssignedULD = &id
		}
		doc.Positions = append(doc.Positions, p)
	}
	return doc
}

// =============================================================================
// ERRORS
// =============================================================================

func invalid(format string, args ...any) *loadplan.Error {
	return &loadplan.Error{
		Kind:    loadplan.KindValidation,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     loadplan.ErrInvalidInput,
	}
}

// describe turns validator output into one validation error listing every
// failing field, e.g. "ulds[1].weight must be gt 0".
func describe(err error) *loadplan.Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalid("%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		var msg string
		switch fe.Tag() {
		case "required":
			msg = field + " is required"
		case "flightcode":
			msg = field + " must be a flight code"
		default:
			msg = strings.TrimSpace(field + " must be " + fe.Tag() + " " + fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return invalid("%s", strings.Join(msgs, "; "))
}
