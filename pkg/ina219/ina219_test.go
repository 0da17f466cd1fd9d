package ina219

import (
	"testing"
)

type fakePort struct {
	regs map[byte][2]byte
}

func (f *fakePort) ReadReg(reg byte, buf []byte) error {
	v := f.regs[reg]
	copy(buf, v[:])
	return nil
}

func (f *fakePort) WriteReg(reg byte, buf []byte) error {
	var v [2]byte
	copy(v[:], buf)
	f.regs[reg] = v
	return nil
}

func (f *fakePort) Close() error { return nil }

func TestCalibration(t *testing.T) {
	fp := &fakePort{regs: map[byte][2]byte{}}
	m := &INA219{dev: fp}
	if err := m.Configure(0.1, 3.2); err != nil {
		t.Fatal(err)
	}
	// 3.2A / 2^15 = 97.66uA per bit; 0.04096 / (97.66e-6 * 0.1) = 4194.
	if got := fp.regs[RegCalibration]; got != [2]byte{0x10, 0x62} {
		t.Errorf("calibration register = % x", got)
	}
}

func TestPairConvert(t *testing.T) {
	fp1 := &fakePort{regs: map[byte][2]byte{RegCurrent: {0x01, 0x00}}}
	fp2 := &fakePort{regs: map[byte][2]byte{RegCurrent: {0xff, 0x00}}}
	p := Pair{&INA219{dev: fp1}, &INA219{dev: fp2}}

	if v, err := p.Convert(0); err != nil || v != 256 {
		t.Errorf("Convert(0) = %d, %v; want 256", v, err)
	}
	if v, err := p.Convert(1); err != nil || v != 256 {
		t.Errorf("Convert(1) = %d, %v; want magnitude 256", v, err)
	}
	if _, err := p.Convert(2); err == nil {
		t.Error("Convert(2) should fail")
	}
	if _, err := (Pair{}).Convert(0); err == nil {
		t.Error("Convert on an empty pair should fail")
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}

func TestReadings(t *testing.T) {
	fp := &fakePort{regs: map[byte][2]byte{
		// 12.0V is 3000 counts, shifted left by three.
		RegBusV:    {0x5d, 0xc0},
		RegCurrent: {0xff, 0xf6},
	}}
	m := &INA219{dev: fp}
	if err := m.Configure(0.1, 3.2); err != nil {
		t.Fatal(err)
	}
	if v, err := m.BusVoltage(); err != nil || v < 11.999 || v > 12.001 {
		t.Errorf("BusVoltage() = %v, %v", v, err)
	}
	if a, err := m.Amps(); err != nil || a > -0.00097 || a < -0.00098 {
		t.Errorf("Amps() = %v, %v", a, err)
	}
	Pair{m, nil}.LogSupply()
}
