package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tickstream/internal/bridge"
	"tickstream/internal/instrument"
	"tickstream/logger"
)

// Offer puts id into the single-slot commands channel. A pending request that
// the stream has not picked up yet is replaced by the newer one.
func Offer(commands chan instrument.ID, id instrument.ID) {
	for {
		select {
		case commands <- id:
			return
		default:
		}
		select {
		case <-commands:
		default:
		}
	}
}

// ReadCommands turns lines read from r into switch requests until r is
// exhausted or ctx ends. Lines that name no known instrument are reported to
// out and skipped.
func ReadCommands(ctx context.Context, r io.Reader, out io.Writer, catalog *instrument.Catalog, commands chan instrument.ID) error {
	log := logger.GetLogger().WithComponent("console")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, ok := catalog.Resolve(line)
		if !ok {
			fmt.Fprintf(out, "unknown instrument %q, choose one of %s\n", line, joinIDs(catalog.IDs()))
			continue
		}
		log.WithField("instrument", string(id)).Debug("switch requested")
		Offer(commands, id)
	}
	return scanner.Err()
}

// Render prints every event to w until events is closed or ctx ends.
func Render(ctx context.Context, w io.Writer, catalog *instrument.Catalog, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintln(w, Format(catalog, e))
		}
	}
}

// Format renders one event as a single console line.
func Format(catalog *instrument.Catalog, e bridge.Event) string {
	stamp := e.At.Format("15:04:05.000")
	if e.Kind == bridge.KindNotice {
		return stamp + "  " + e.Notice
	}

	name := e.Tick.MatchKey
	if id, ok := catalog.ByMatchKey(e.Tick.MatchKey); ok {
		if info, ok := catalog.Lookup(id); ok && info.DisplayName != "" {
			name = info.DisplayName
		}
	}
	line := stamp + "  " + name + "  " + strconv.FormatFloat(e.Tick.Price, 'f', -1, 64)
	if e.Tick.IndexPrice != 0 {
		line += "  index " + strconv.FormatFloat(e.Tick.IndexPrice, 'f', -1, 64)
	}
	if e.Tick.FundingFee != 0 {
		line += "  funding " + strconv.FormatFloat(e.Tick.FundingFee, 'f', -1, 64)
	}
	return line
}

func joinIDs(ids []instrument.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
