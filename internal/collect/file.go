package collect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

// FileProducer reads reports from a JSON Lines file, one RawReport per
// line. Each pass reads only complete lines appended since the previous
// pass, so a file that grows is followed like a tail.
type FileProducer struct {
	base
	path   string
	offset int64
}

// NewFileProducer creates a producer reading path.
func NewFileProducer(name, path string, interval time.Duration, opts Options) *FileProducer {
	return &FileProducer{
		base: newBase(name, interval, opts),
		path: path,
	}
}

// Type returns model.SourceReplay. Individual reports keep the source type
// recorded in the file.
func (p *FileProducer) Type() model.SourceType { return model.SourceReplay }

// Collect returns the reports appended since the last pass. Malformed lines
// are logged and skipped.
func (p *FileProducer) Collect(ctx context.Context) ([]model.RawReport, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek %s: %w", p.path, err)
	}

	now := p.now().UTC()
	var reports []model.RawReport
	reader := bufio.NewReader(f)
	for {
		if ctx.Err() != nil {
			return reports, nil
		}
		line, err := reader.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return nil, fmt.Errorf("failed to read %s: %w", p.path, err)
		}
		raw := line
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if eof {
				break
			}
			p.offset += int64(len(raw))
			continue
		}

		var r model.RawReport
		if err := json.Unmarshal(line, &r); err != nil {
			if eof {
				// Possibly a line still being written; retry next pass.
				break
			}
			logging.Warn("replay: skipping malformed line", "path", p.path, "offset", p.offset, "error", err)
			p.offset += int64(len(raw))
			continue
		}
		p.offset += int64(len(raw))
		if r.SourceType == "" {
			r.SourceType = model.SourceReplay
		}
		r.SourceType = r.SourceType.Normalize()
		if r.CollectedAt.IsZero() {
			r.CollectedAt = now
		}
		if !p.admit(r.Key(), r.Text, r.SourceType) {
			continue
		}
		reports = append(reports, r)
		if eof {
			break
		}
	}
	return reports, nil
}

// ReadReports decodes every report in a JSON Lines stream. Unlike
// FileProducer it fails on the first malformed line.
func ReadReports(r io.Reader) ([]model.RawReport, error) {
	var reports []model.RawReport
	dec := json.NewDecoder(r)
	for {
		var rep model.RawReport
		err := dec.Decode(&rep)
		if err == io.EOF {
			return reports, nil
		}
		if err != nil {
			return nil, fmt.Errorf("report %d: %w", len(reports)+1, err)
		}
		if rep.SourceType == "" {
			rep.SourceType = model.SourceReplay
		}
		reports = append(reports, rep)
	}
}

// WriteReports encodes reports as JSON Lines.
func WriteReports(w io.Writer, reports []model.RawReport) error {
	enc := json.NewEncoder(w)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
