// Package busproto decodes register-bus write transactions into ordered batches of field
// updates, and serves reads from a published register image.
package busproto

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

// Intent is one decoded field write.
type Intent struct {
	Addr  byte
	Entry regmap.Entry
	Value uint32
}

// Batch is everything one write transaction asked for. The board applies it as a unit.
type Batch struct {
	Intents []Intent
	// Updated has bit n set when address n was written.
	Updated uint32
	// Final is the active address when the transaction ended; a command field selected
	// here runs after the intents are applied.
	Final byte
}

func (b *Batch) Has(addr byte) bool {
	return addr < 32 && b.Updated&(1<<addr) != 0
}

// Stats counts decoded and discarded traffic.
type Stats struct {
	Transactions uint64
	Intents      uint64
	// Skipped counts non-writable addresses stepped over during a write.
	Skipped uint64
	// Dropped counts bytes written past the end of the map.
	Dropped uint64
	// Partial counts trailing fields too short to apply.
	Partial uint64
	Aborted uint64
}

// Decoder tracks the transaction in progress and the read pointer of one bus.
type Decoder struct {
	m *regmap.Map

	lock     sync.Mutex
	pending  []byte
	readAddr byte

	transactions, intents, skipped, dropped, partial, aborted atomic.Uint64
}

func NewDecoder(m *regmap.Map) *Decoder {
	return &Decoder{m: m}
}

// Write appends received bytes to the transaction in progress.
func (d *Decoder) Write(p []byte) (int, error) {
	d.lock.Lock()
	d.pending = append(d.pending, p...)
	d.lock.Unlock()
	return len(p), nil
}

// End closes the transaction in progress. ok is false when nothing was received.
func (d *Decoder) End() (b Batch, ok bool) {
	d.lock.Lock()
	tx := d.pending
	d.pending = nil
	d.lock.Unlock()
	return d.Decode(tx)
}

// Abort discards the transaction in progress, for transports that time out mid-write.
func (d *Decoder) Abort() {
	d.lock.Lock()
	n := len(d.pending)
	d.pending = nil
	d.lock.Unlock()
	if n > 0 {
		d.aborted.Add(1)
		log.WithField("bytes", n).Debug("Bus transaction aborted")
	}
}

// Decode turns one complete write transaction into a batch. The first byte selects the
// active address; the remaining bytes are consumed field by field, advancing the active
// address after each field while bytes remain.
func (d *Decoder) Decode(tx []byte) (b Batch, ok bool) {
	if len(tx) == 0 {
		return b, false
	}
	d.transactions.Add(1)

	addr := tx[0]
	rest := tx[1:]
	for len(rest) > 0 {
		e, mapped := d.m.Lookup(addr)
		if !mapped {
			d.dropped.Add(uint64(len(rest)))
			log.WithFields(log.Fields{"addr": addr, "bytes": len(rest)}).Debug("Write past end of register map")
			break
		}
		if !e.Writable {
			d.skipped.Add(1)
			addr++
			continue
		}
		w := e.Kind.Width()
		if len(rest) < w {
			d.partial.Add(1)
			log.WithFields(log.Fields{"reg": e.Name, "bytes": len(rest)}).Debug("Dropped partial field")
			break
		}
		b.Intents = append(b.Intents, Intent{Addr: addr, Entry: e, Value: regmap.Decode(e.Kind, rest[:w])})
		b.Updated |= 1 << addr
		d.intents.Add(1)
		rest = rest[w:]
		if len(rest) > 0 {
			addr++
		}
	}
	b.Final = addr

	if e, mapped := d.m.Lookup(addr); mapped && e.Readable {
		d.lock.Lock()
		d.readAddr = addr
		d.lock.Unlock()
	}
	return b, true
}

// ReadAddr is the address the next read starts at.
func (d *Decoder) ReadAddr() byte {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.readAddr
}

// Read serves one transfer unit from img at the read pointer.
func (d *Decoder) Read(img *regmap.Image) [regmap.TransferUnit]byte {
	unit, _ := img.Read(d.ReadAddr())
	return unit
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Transactions: d.transactions.Load(),
		Intents:      d.intents.Load(),
		Skipped:      d.skipped.Load(),
		Dropped:      d.dropped.Load(),
		Partial:      d.partial.Load(),
		Aborted:      d.aborted.Load(),
	}
}
