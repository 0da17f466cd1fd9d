// Package regmap describes the addressable registers of the driver board, one table per
// protocol generation, and encodes register values to and from their wire bytes.
//
// Every read returns a fixed 4-byte transfer unit, the width of the widest field. Shorter
// fields are zero padded.
package regmap

import (
	"sort"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Field is what a register means, independent of where a generation places it.
type Field byte

const (
	FieldControl Field = iota
	FieldPower
	FieldEncoder
	FieldRate
	FieldCurrent
	FieldKP
	FieldKI
	FieldKD
	FieldRampingRate
	FieldMinPower
	FieldDeviceAddress
	FieldSettingsSave
	FieldSettingsLoad
	FieldReset
)

// Kind is the wire encoding of a field.
type Kind byte

const (
	KindUint8 Kind = iota
	KindInt16
	KindInt32
	KindUint16
	KindFloat
	// KindCommand fields carry no payload and act when selected at the end of a write.
	KindCommand
)

// TransferUnit is the number of bytes returned by every read.
const TransferUnit = 4

func (k Kind) Width() int {
	switch k {
	case KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindFloat:
		return 4
	}
	return 0
}

type Entry struct {
	Name     string
	Field    Field
	Kind     Kind
	Motor    int
	Readable bool
	Writable bool
}

type Map struct {
	Version *semver.Version
	// RateScale is the rate calibration the generation's masters expect.
	RateScale float64
	Entries   []Entry
}

func (m *Map) Len() int {
	return len(m.Entries)
}

func (m *Map) Lookup(addr byte) (Entry, bool) {
	if int(addr) >= len(m.Entries) {
		return Entry{}, false
	}
	return m.Entries[addr], true
}

// Addr finds the address of a field; ok is false if this generation does not have it.
func (m *Map) Addr(f Field, motor int) (addr byte, ok bool) {
	for i, e := range m.Entries {
		if e.Field == f && e.Motor == motor {
			return byte(i), true
		}
	}
	return 0, false
}

func rw(name string, f Field, k Kind, motor int) Entry {
	return Entry{Name: name, Field: f, Kind: k, Motor: motor, Readable: true, Writable: true}
}

func ro(name string, f Field, k Kind, motor int) Entry {
	return Entry{Name: name, Field: f, Kind: k, Motor: motor, Readable: true}
}

func wo(name string, f Field, k Kind) Entry {
	return Entry{Name: name, Field: f, Kind: k, Writable: k != KindCommand}
}

var (
	V2 = &Map{
		Version:   semver.MustParse("2.0.0"),
		RateScale: 60,
		Entries: []Entry{
			rw("M1Control", FieldControl, KindUint8, 0),
			rw("M2Control", FieldControl, KindUint8, 1),
			rw("M1Power", FieldPower, KindUint8, 0),
			rw("M2Power", FieldPower, KindUint8, 1),
			rw("M1Encoder", FieldEncoder, KindInt32, 0),
			rw("M2Encoder", FieldEncoder, KindInt32, 1),
			rw("M1Rate", FieldRate, KindInt16, 0),
			rw("M2Rate", FieldRate, KindInt16, 1),
			ro("M1Current", FieldCurrent, KindUint16, 0),
			ro("M2Current", FieldCurrent, KindUint16, 1),
			rw("PIDKP", FieldKP, KindFloat, 0),
			rw("PIDKI", FieldKI, KindFloat, 0),
			rw("PIDKD", FieldKD, KindFloat, 0),
			rw("RampingRate", FieldRampingRate, KindUint8, 0),
			rw("MinPower", FieldMinPower, KindUint8, 0),
			wo("DeviceAddress", FieldDeviceAddress, KindUint8),
			wo("SettingsSave", FieldSettingsSave, KindUint8),
			wo("SettingsLoad", FieldSettingsLoad, KindCommand),
			wo("Reset", FieldReset, KindCommand),
		},
	}

	// V1 is the first board generation: one encoder, no current sense, no tunables on
	// the bus, and a rate unit 682 times finer per tick.
	V1 = &Map{
		Version:   semver.MustParse("1.0.0"),
		RateScale: 682,
		Entries: []Entry{
			rw("M1Control", FieldControl, KindUint8, 0),
			rw("M2Control", FieldControl, KindUint8, 1),
			rw("M1Power", FieldPower, KindUint8, 0),
			rw("M2Power", FieldPower, KindUint8, 1),
			rw("M1Encoder", FieldEncoder, KindInt32, 0),
			rw("M1Rate", FieldRate, KindInt16, 0),
			wo("DeviceAddress", FieldDeviceAddress, KindUint8),
		},
	}

	all = []*Map{V1, V2}
)

var ErrNoMatchingMap = errors.New("no register map matches constraint")

// Select returns the newest map whose version satisfies the constraint, for example
// "^2.0.0" or "1.x".
func Select(constraint string) (*Map, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, errors.Wrapf(err, "regmap: bad constraint %q", constraint)
	}
	var matches []*Map
	for _, m := range all {
		if c.Check(m.Version) {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrNoMatchingMap, "regmap: %q", constraint)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Version.LessThan(matches[j].Version)
	})
	return matches[len(matches)-1], nil
}
