package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unijord/timeseek/pkg/cursor"
	"github.com/unijord/timeseek/pkg/entry"
	"github.com/unijord/timeseek/pkg/finder"
	"github.com/unijord/timeseek/pkg/ledger"
)

func newProduceCommand(a *app) *cobra.Command {
	var (
		count      int
		producer   string
		intervalMs int64
		payload    string
	)

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Append entries stamped with the current time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			if producer == "" {
				producer = "producer-" + uuid.NewString()[:8]
			}
			return a.withLedger(func(l *ledger.Ledger) error {
				for i := 0; i < count; i++ {
					if i > 0 && intervalMs > 0 {
						time.Sleep(time.Duration(intervalMs) * time.Millisecond)
					}
					now := time.Now().UnixMilli()
					pos, err := l.Append(entry.Entry{
						PublishTime:  now,
						ProducerName: producer,
						SequenceID:   uint64(i),
						Payload:      []byte(payload),
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", pos, formatMillis(now))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of entries to append")
	cmd.Flags().StringVar(&producer, "producer", "", "producer name (random when empty)")
	cmd.Flags().Int64Var(&intervalMs, "interval-ms", 0, "pause between entries in milliseconds")
	cmd.Flags().StringVar(&payload, "payload", "", "entry payload")
	return cmd
}

func newSealCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Seal the active segment and start a new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(func(l *ledger.Ledger) error {
				id, err := l.Seal()
				if errors.Is(err, ledger.ErrEmptySegment) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to seal")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sealed segment %d\n", id)
				return nil
			})
		},
	}
}

func newTrimCommand(a *app) *cobra.Command {
	var before uint64

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Remove sealed segments older than a segment id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(func(l *ledger.Ledger) error {
				removed, err := l.Trim(before)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d segments %v\n", len(removed), removed)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&before, "before", 0, "remove segments with a lower id")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

func newSegmentsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "segments",
		Short: "List segments with their publish time spans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(func(l *ledger.Ledger) error {
				segments, err := l.Catalog()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SEGMENT\tENTRIES\tBEGIN\tEND")
				for _, s := range segments {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
						s.SegmentID, s.EntryCount,
						formatMillis(s.BeginPublishTimestamp), formatMillis(s.EndPublishTimestamp))
				}
				return w.Flush()
			})
		},
	}
}

func newFindCommand(a *app) *cobra.Command {
	var (
		at         string
		cursorName string
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Print the newest entry published at or before a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := parseTime(at)
			if err != nil {
				return err
			}
			if cursorName == "" {
				cursorName = a.cfg.Finder.DefaultCursor
			}
			return a.withLedger(func(l *ledger.Ledger) error {
				f := finder.New(cursorName, l, finder.WithLogger(a.logger))
				pos, err := f.Find(cmd.Context(), ts)
				if err != nil {
					return err
				}
				if pos == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "none")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), pos)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "time as epoch milliseconds or RFC3339")
	cmd.Flags().StringVar(&cursorName, "cursor", "", "cursor the search runs for")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func openCursor(a *app, l *ledger.Ledger, name string) (*cursor.Cursor, error) {
	if name == "" {
		name = a.cfg.Finder.DefaultCursor
	}
	return cursor.NewManager(l, cursor.WithLogger(a.logger)).Open(name)
}

func newResetCommand(a *app) *cobra.Command {
	var (
		at         string
		cursorName string
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Move a cursor to the newest entry published at or before a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := parseTime(at)
			if err != nil {
				return err
			}
			return a.withLedger(func(l *ledger.Ledger) error {
				c, err := openCursor(a, l, cursorName)
				if err != nil {
					return err
				}
				read, err := c.ResetToTimestamp(cmd.Context(), ts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmark-delete %s\tread %s\n", c.Name(), c.MarkDeletePosition(), read)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "time as epoch milliseconds or RFC3339")
	cmd.Flags().StringVar(&cursorName, "cursor", "", "cursor name")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newExpireCommand(a *app) *cobra.Command {
	var (
		ttl        time.Duration
		cursorName string
	)

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Acknowledge entries older than a TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			return a.withLedger(func(l *ledger.Ledger) error {
				c, err := openCursor(a, l, cursorName)
				if err != nil {
					return err
				}
				moved, err := c.ExpireMessages(cmd.Context(), ttl)
				if err != nil {
					return err
				}
				if !moved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tnothing expired\n", c.Name())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmark-delete %s\n", c.Name(), c.MarkDeletePosition())
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "message time to live, e.g. 1h")
	cmd.Flags().StringVar(&cursorName, "cursor", "", "cursor name")
	_ = cmd.MarkFlagRequired("ttl")
	return cmd
}

func newReadCommand(a *app) *cobra.Command {
	var (
		limit      int
		ack        bool
		cursorName string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read entries from a cursor's read position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(func(l *ledger.Ledger) error {
				c, err := openCursor(a, l, cursorName)
				if err != nil {
					return err
				}
				entries, err := c.ReadEntries(limit)
				if err != nil {
					return err
				}
				for _, e := range entries {
					decoded, err := entry.Decode(e.Data)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t<%v>\n", e.Position, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\t%q\n",
						e.Position, formatMillis(decoded.PublishTime), decoded.ProducerName, decoded.SequenceID, decoded.Payload)
				}
				if ack && len(entries) > 0 {
					return c.Acknowledge(entries[len(entries)-1].Position)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of entries")
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge the entries read")
	cmd.Flags().StringVar(&cursorName, "cursor", "", "cursor name")
	return cmd
}

func newCursorsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cursors",
		Short: "List cursors and their mark-delete positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(func(l *ledger.Ledger) error {
				states, err := cursor.NewManager(l, cursor.WithLogger(a.logger)).List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CURSOR\tMARK-DELETE\tUPDATED")
				for _, s := range states {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.MarkDelete, formatMillis(s.UpdatedAt))
				}
				return w.Flush()
			})
		},
	}
}
