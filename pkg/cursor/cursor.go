// Package cursor implements named, durable read cursors over the ledger.
//
// A cursor persists only its mark-delete position, the newest acknowledged
// entry. The read position starts right after it and moves forward as
// entries are read. Resets and message expiry locate their target with the
// cursor's own finder, so each cursor runs at most one search at a time.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/finder"
	"github.com/unijord/timeseek/pkg/ledger"
	"github.com/unijord/timeseek/pkg/position"
)

// Cursor is a named position in the ledger.
type Cursor struct {
	name   string
	ledger *ledger.Ledger
	finder *finder.MessageFinder
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	markDelete   position.Position
	readPosition position.Position
}

func (c *Cursor) Name() string {
	return c.name
}

// MarkDeletePosition returns the newest acknowledged position.
func (c *Cursor) MarkDeletePosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markDelete
}

// ReadPosition returns the position of the next entry to read.
func (c *Cursor) ReadPosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPosition
}

// FindInProgress reports whether a reset or expiry search is running.
func (c *Cursor) FindInProgress() bool {
	return c.finder.InProgress()
}

// Acknowledge moves the mark-delete position to pos. Positions at or before
// the current mark-delete position are ignored.
func (c *Cursor) Acknowledge(pos position.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.markDelete.Before(pos) {
		return nil
	}
	return c.advanceLocked(pos)
}

// advanceLocked moves mark-delete forward to pos and drags the read
// position along when it falls behind.
func (c *Cursor) advanceLocked(pos position.Position) error {
	readPosition := c.readPosition
	if next := c.ledger.Next(pos); readPosition.Before(next) {
		readPosition = next
	}
	if err := c.persist(pos); err != nil {
		return err
	}
	c.markDelete = pos
	c.readPosition = readPosition
	return nil
}

func (c *Cursor) persist(markDelete position.Position) error {
	err := c.ledger.Store().SaveCursor(catalog.CursorState{
		Name:       c.name,
		MarkDelete: markDelete,
		UpdatedAt:  c.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("persist cursor %s: %w", c.name, err)
	}
	return nil
}

// ResetToTimestamp repositions the cursor on the newest entry published at
// or before ts (epoch milliseconds): that entry becomes the mark-delete
// position and reading resumes after it. Without such an entry the cursor
// rewinds to the start of the log. It returns the new read position.
func (c *Cursor) ResetToTimestamp(ctx context.Context, ts int64) (position.Position, error) {
	found, err := c.finder.Find(ctx, ts)
	if err != nil {
		return position.Position{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	markDelete, readPosition := c.startLocked()
	if found != nil {
		markDelete, readPosition = *found, c.ledger.Next(*found)
	}
	if err := c.persist(markDelete); err != nil {
		return position.Position{}, err
	}
	c.markDelete = markDelete
	c.readPosition = readPosition

	c.logger.Info("cursor reset",
		"timestamp", ts,
		"mark_delete", markDelete.String(),
		"read_position", readPosition.String())
	return readPosition, nil
}

func (c *Cursor) startLocked() (markDelete, readPosition position.Position) {
	first := c.ledger.FirstPosition()
	return position.BeforeFirst(first.SegmentID), first
}

// ExpireMessages acknowledges every entry published more than ttl ago.
// It reports whether the mark-delete position moved.
func (c *Cursor) ExpireMessages(ctx context.Context, ttl time.Duration) (bool, error) {
	cutoff := c.now().Add(-ttl).UnixMilli()
	found, err := c.finder.Find(ctx, cutoff)
	if err != nil {
		return false, err
	}
	if found == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.markDelete.Before(*found) {
		return false, nil
	}
	if err := c.advanceLocked(*found); err != nil {
		return false, err
	}
	c.logger.Info("expired messages", "ttl", ttl.String(), "mark_delete", found.String())
	return true, nil
}

// ReadEntries returns up to limit entries from the read position and moves
// the read position past them.
func (c *Cursor) ReadEntries(limit int) ([]ledger.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ledger.Entry
	pos := c.readPosition
	for len(out) < limit {
		data, err := c.ledger.Read(pos)
		if errors.Is(err, ledger.ErrEntryOutOfRange) {
			// pos may be the end of a segment that was sealed since
			alt := c.ledger.Next(position.New(pos.SegmentID, pos.EntryIndex-1))
			if alt == pos {
				break
			}
			pos = alt
			continue
		}
		if err != nil {
			c.readPosition = pos
			return out, err
		}
		out = append(out, ledger.Entry{Position: pos, Data: data})
		pos = c.ledger.Next(pos)
	}
	c.readPosition = pos
	return out, nil
}
