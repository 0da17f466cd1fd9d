package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/board"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/busproto"
	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/regmap"
)

type commit struct {
	batch busproto.Batch
	done  chan error
}

// Controller runs the board on one goroutine. Ticks and bus commits are serialised
// there; everything else sees the board only through its published register image.
type Controller struct {
	build  func() *board.Board
	period time.Duration

	commits chan commit
	image   atomic.Pointer[regmap.Image]
	resets  atomic.Uint32
}

func NewController(build func() *board.Board, period time.Duration) *Controller {
	return &Controller{
		build:   build,
		period:  period,
		commits: make(chan commit),
	}
}

// Transact hands a decoded write to the loop and waits until the board has applied it
// and published the result, so a read issued afterwards observes the write.
func (c *Controller) Transact(ctx context.Context, batch busproto.Batch) error {
	cm := commit{batch: batch, done: make(chan error, 1)}
	select {
	case c.commits <- cm:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cm.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Image is the latest published register image, or nil before the first board is up.
func (c *Controller) Image() *regmap.Image {
	return c.image.Load()
}

func (c *Controller) Resets() uint32 {
	return c.resets.Load()
}

func (c *Controller) Loop(ctx context.Context, initDone *sync.WaitGroup) {
	log.Info("Board loop started")
	var pending chan error
	for {
		pending = c.loopUntilReset(ctx, initDone, pending)
		if ctx.Err() != nil {
			if pending != nil {
				pending <- ctx.Err()
			}
			return
		}
		log.Warn("===== Board reset; rebuilding from stored settings =====")
		c.resets.Add(1)
		initDone = nil
	}
}

// loopUntilReset builds a board and runs it until ctx is done or the master resets it.
// On reset it returns the resetting transaction's done channel, which is answered once
// the replacement board is running.
func (c *Controller) loopUntilReset(ctx context.Context, initDone *sync.WaitGroup, pending chan error) chan error {
	b := c.build()
	defer b.Stop()
	c.image.Store(b.Image())

	if initDone != nil {
		initDone.Done()
	}
	if pending != nil {
		pending <- nil
	}

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Tick()
		case cm := <-c.commits:
			err := b.Commit(cm.batch)
			if err == board.ErrReset {
				return cm.done
			}
			c.image.Store(b.Image())
			cm.done <- err
			continue
		}
		c.image.Store(b.Image())
	}
}
