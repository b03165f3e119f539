package world

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// Dump writes a human readable view of a cycle: one hex line per observer.
func Dump(w io.Writer, report *CycleReport) error {
	for _, o := range report.Observers {
		if o.Err != nil {
			if _, err := fmt.Fprintf(w, "Observer %d replication packet dropped: %v\n\n", o.ID, o.Err); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "Observer %d replication packet (%d bytes, %d entities):\n%s\n\n",
			o.ID, len(o.Packet), o.Records, hexBytes(o.Packet)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "tick %d: %s to %d observers, %d dirty entities flushed\n",
		report.Tick, humanize.Bytes(uint64(report.Bytes)), len(report.Observers), report.Dirty)
	return err
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
