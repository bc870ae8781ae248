// Package archive exports closed presence records to object storage as
// newline-delimited JSON, one object per UTC day of exit.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/taxibcn/reten/internal/ledger"
)

const day = 24 * time.Hour

var ErrOpenRecord = errors.New("archive: record is still open")

// Cutoff is the start of the UTC day olderThan before now. Records exited
// before it belong to days no later run can add to.
func Cutoff(now time.Time, olderThan time.Duration) time.Time {
	return now.UTC().Add(-olderThan).Truncate(day)
}

// Batch is one object to upload and the records it holds.
type Batch struct {
	Key  string
	Body []byte
	IDs  []string
}

// Batches groups records by the UTC day they were closed, ordered by key.
func Batches(prefix string, recs []ledger.PresenceRecord) ([]Batch, error) {
	byKey := make(map[string]*Batch)
	bufs := make(map[string]*bytes.Buffer)
	for _, rec := range recs {
		if rec.ExitedAt == nil {
			return nil, fmt.Errorf("%w: %s", ErrOpenRecord, rec.ID)
		}
		key := path.Join(prefix, rec.ExitedAt.UTC().Format("2006-01-02")+".ndjson")
		b, ok := byKey[key]
		if !ok {
			b = &Batch{Key: key}
			byKey[key] = b
			bufs[key] = &bytes.Buffer{}
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		bufs[key].Write(line)
		bufs[key].WriteByte('\n')
		b.IDs = append(b.IDs, rec.ID)
	}

	out := make([]Batch, 0, len(byKey))
	for key, b := range byKey {
		b.Body = bufs[key].Bytes()
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
