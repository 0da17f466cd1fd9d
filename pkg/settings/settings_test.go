package settings

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
)

func custom() Snapshot {
	s := Defaults()
	s.Control = [2]motor.Flags{motor.Speed, motor.Speed | motor.Mode}
	s.Tunables.RampingRate = 9
	s.Tunables.MinPower = 33
	s.Tunables.Address = 0x11
	s.Tunables.KP, s.Tunables.KI, s.Tunables.KD = 1.5, 0.125, 0.25
	return s
}

func testStore(medium Medium) {
	store := NewEEPROM(medium)

	Convey("an erased medium loads defaults", func() {
		s, err := store.Load()
		So(err, ShouldBeNil)
		So(s, ShouldResemble, Defaults())
	})

	Convey("saving every group round trips", func() {
		all := GroupControl | GroupRamping | GroupMinPower | GroupAddress | GroupPID
		So(store.Save(all, custom()), ShouldBeNil)
		s, err := store.Load()
		So(err, ShouldBeNil)
		So(s, ShouldResemble, custom())
	})

	Convey("only saved groups are restored", func() {
		So(store.Save(GroupRamping, custom()), ShouldBeNil)
		s, err := store.Load()
		So(err, ShouldBeNil)
		So(s.Tunables.RampingRate, ShouldEqual, 9)
		So(s.Tunables.MinPower, ShouldEqual, 20)
		So(s.Tunables.KP, ShouldEqual, float32(0.5))

		Convey("and later saves add to them", func() {
			later := custom()
			later.Tunables.RampingRate = 1
			So(store.Save(GroupMinPower, later), ShouldBeNil)
			s, err := store.Load()
			So(err, ShouldBeNil)
			So(s.Tunables.MinPower, ShouldEqual, 33)
			So(s.Tunables.RampingRate, ShouldEqual, 1)
		})

		Convey("and saving the never-initialised marker forgets them", func() {
			So(store.Save(NeverInitialised, custom()), ShouldBeNil)
			s, err := store.Load()
			So(err, ShouldBeNil)
			So(s, ShouldResemble, Defaults())
		})
	})
}

func TestMemory(t *testing.T) {
	Convey("an EEPROM on a memory medium", t, func() {
		testStore(NewMemory())
	})

	Convey("a stored address is loaded as seven bits", t, func() {
		m := NewMemory()
		_, err := m.WriteAt([]byte{byte(GroupAddress)}, offMask)
		So(err, ShouldBeNil)
		_, err = m.WriteAt([]byte{0xc5}, offAddress)
		So(err, ShouldBeNil)

		s, err := NewEEPROM(m).Load()
		So(err, ShouldBeNil)
		So(s.Tunables.Address, ShouldEqual, 0x45)
	})

	Convey("the memory medium rejects out of range access", t, func() {
		m := NewMemory()
		_, err := m.WriteAt([]byte{1, 2}, ImageSize-1)
		So(err, ShouldEqual, ErrOutOfRange)
	})
}

func TestFile(t *testing.T) {
	Convey("an EEPROM on a file medium", t, func() {
		dir, err := ioutil.TempDir("", "settings")
		So(err, ShouldBeNil)
		Reset(func() {
			_ = os.RemoveAll(dir)
		})
		path := filepath.Join(dir, "settings.db")

		f, err := OpenFile(path)
		So(err, ShouldBeNil)
		Reset(func() {
			_ = f.Close()
		})

		testStore(f)

		Convey("survives reopening", func() {
			So(NewEEPROM(f).Save(GroupAddress, custom()), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			f2, err := OpenFile(path)
			So(err, ShouldBeNil)
			defer f2.Close()
			s, err := NewEEPROM(f2).Load()
			So(err, ShouldBeNil)
			So(s.Tunables.Address, ShouldEqual, 0x11)
		})
	})
}
