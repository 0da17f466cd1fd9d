package dmd

type encoderReader interface {
	Encoder(m int) (int32, error)
}

// DistanceTracker accumulates encoder counts across polls so that callers can zero and
// measure without resetting the board's counters. Wraparound of the 32-bit counters is
// absorbed by the subtraction.
type DistanceTracker struct {
	dev         encoderReader
	ticksPerRev float64

	doneFirstPoll bool
	lastRaw       [2]int32

	accumulator [2]int64
}

func NewDistanceTracker(dev encoderReader, ticksPerRev float64) *DistanceTracker {
	if ticksPerRev <= 0 {
		ticksPerRev = 1
	}
	return &DistanceTracker{
		dev:         dev,
		ticksPerRev: ticksPerRev,
	}
}

func (d *DistanceTracker) Poll() error {
	var raw [2]int32
	for m := range raw {
		v, err := d.dev.Encoder(m)
		if err != nil {
			return err
		}
		raw[m] = v
	}

	if d.doneFirstPoll {
		for m, newV := range raw {
			delta := newV - d.lastRaw[m]
			d.accumulator[m] += int64(delta)
		}
	}

	d.lastRaw = raw
	d.doneFirstPoll = true
	return nil
}

func (d *DistanceTracker) AccumulatedTicks() [2]int64 {
	return d.accumulator
}

func (d *DistanceTracker) AccumulatedRotations() (rotations [2]float64) {
	for m, v := range d.accumulator {
		rotations[m] = float64(v) / d.ticksPerRev
	}
	return
}

func (d *DistanceTracker) Zero() {
	d.accumulator = [2]int64{}
}
