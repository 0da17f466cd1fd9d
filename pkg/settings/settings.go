// Package settings persists the board's tunables across restarts in a small EEPROM-style
// image: a group mask byte followed by one fixed slot per group.
package settings

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
)

// Group selects which settings a save writes.
type Group uint8

const (
	GroupControl  Group = 0x01
	GroupRamping  Group = 0x02
	GroupMinPower Group = 0x04
	GroupAddress  Group = 0x08
	GroupPID      Group = 0x10

	// NeverInitialised in the stored mask means nothing valid has been saved.
	NeverInitialised Group = 0x80
)

// Image layout.
const (
	offMask     = 0
	offControl  = 1
	offRamping  = 3
	offMinPower = 4
	offAddress  = 5
	offPID      = 6

	ImageSize = offPID + 12
)

// Snapshot is the persistable state of a board.
type Snapshot struct {
	Control  [2]motor.Flags
	Tunables motor.Tunables
}

func Defaults() Snapshot {
	return Snapshot{Tunables: motor.DefaultTunables()}
}

type Store interface {
	Load() (Snapshot, error)
	Save(groups Group, s Snapshot) error
}

// Medium is byte-addressable non-volatile storage. Bytes that were never written read
// as 0xFF.
type Medium interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

type EEPROM struct {
	medium Medium
}

func NewEEPROM(m Medium) *EEPROM {
	return &EEPROM{medium: m}
}

var _ Store = (*EEPROM)(nil)

// Load returns the stored value of every saved group and the default for the rest.
func (e *EEPROM) Load() (Snapshot, error) {
	s := Defaults()

	var img [ImageSize]byte
	if _, err := e.medium.ReadAt(img[:], 0); err != nil {
		return s, errors.Wrap(err, "settings: read")
	}
	mask := Group(img[offMask])
	if mask&NeverInitialised != 0 {
		log.Debug("Settings never saved, using defaults")
		return s, nil
	}

	if mask&GroupControl != 0 {
		s.Control[0] = motor.Flags(img[offControl])
		s.Control[1] = motor.Flags(img[offControl+1])
	}
	if mask&GroupRamping != 0 {
		s.Tunables.RampingRate = img[offRamping]
	}
	if mask&GroupMinPower != 0 {
		s.Tunables.MinPower = img[offMinPower]
	}
	if mask&GroupAddress != 0 {
		s.Tunables.Address = img[offAddress] & 0x7f
	}
	if mask&GroupPID != 0 {
		s.Tunables.KP = getFloat(img[offPID:])
		s.Tunables.KI = getFloat(img[offPID+4:])
		s.Tunables.KD = getFloat(img[offPID+8:])
	}
	log.WithField("groups", mask).Debug("Loaded settings")
	return s, nil
}

// Save writes the selected groups. Groups saved earlier stay saved, unless the medium
// was never initialised, in which case the mask is replaced outright.
func (e *EEPROM) Save(groups Group, s Snapshot) error {
	var mask [1]byte
	if _, err := e.medium.ReadAt(mask[:], offMask); err != nil {
		return errors.Wrap(err, "settings: read mask")
	}
	if Group(mask[0])&NeverInitialised == 0 {
		groups |= Group(mask[0])
	}

	if err := e.write(offMask, byte(groups)); err != nil {
		return err
	}
	if groups&GroupControl != 0 {
		if err := e.write(offControl, byte(s.Control[0]), byte(s.Control[1])); err != nil {
			return err
		}
	}
	if groups&GroupRamping != 0 {
		if err := e.write(offRamping, s.Tunables.RampingRate); err != nil {
			return err
		}
	}
	if groups&GroupMinPower != 0 {
		if err := e.write(offMinPower, s.Tunables.MinPower); err != nil {
			return err
		}
	}
	if groups&GroupAddress != 0 {
		if err := e.write(offAddress, s.Tunables.Address); err != nil {
			return err
		}
	}
	if groups&GroupPID != 0 {
		var pid [12]byte
		putFloat(pid[0:], s.Tunables.KP)
		putFloat(pid[4:], s.Tunables.KI)
		putFloat(pid[8:], s.Tunables.KD)
		if err := e.write(offPID, pid[:]...); err != nil {
			return err
		}
	}
	log.WithField("groups", groups).Info("Saved settings")
	return nil
}

func (e *EEPROM) write(off int64, b ...byte) error {
	_, err := e.medium.WriteAt(b, off)
	return errors.Wrapf(err, "settings: write at %d", off)
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}
