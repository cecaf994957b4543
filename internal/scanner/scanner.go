// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

// Package scanner discovers Lustre HSM action-log files via a glob, reads
// them atomically, and parses each line into an action.Record. It performs no
// cross-snapshot comparison; that belongs to the differ package.
package scanner

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lustre-hsm/action-shipper/internal/action"
	"github.com/zeebo/errs"
)

// Error is the error class for source-file reads, logged and skipped per §7's
// SourceRead policy rather than propagated.
var Error = errs.Class("scanner")

// mdtPattern matches the MDT component of a debugfs action-log path, e.g.
// ".../elm-MDT0003/hsm/actions" -> "elm-MDT0003".
var mdtPattern = regexp.MustCompile(`([A-Za-z0-9_.-]+-MDT[0-9]{4})`)

var (
	idxPattern    = regexp.MustCompile(`idx=\[?([0-9]+)/([0-9]+)\]?`)
	fidPattern    = regexp.MustCompile(`fid=\[([^\]]*)\]`)
	actionPattern = regexp.MustCompile(`action=(\S+)`)
	statusPattern = regexp.MustCompile(`status=(\S+)`)
)

// Scanner reads action-log files matching a glob pattern.
type Scanner struct {
	log  *zap.Logger
	glob string
}

// New returns a Scanner that will expand glob on every Scan call.
func New(log *zap.Logger, glob string) *Scanner {
	return &Scanner{log: log.Named("scanner"), glob: glob}
}

// Scan expands the configured glob and parses every matching file's lines
// into Records, grouped by MDT. A file that vanishes mid-scan or returns an
// I/O error is omitted from the result; the scan as a whole never fails for
// that reason.
func (s *Scanner) Scan() map[string][]*action.Record {
	matches, err := filepath.Glob(s.glob)
	if err != nil {
		s.log.Warn("glob expansion failed", zap.String("glob", s.glob), zap.Error(err))
		return map[string][]*action.Record{}
	}

	out := make(map[string][]*action.Record, len(matches))
	for _, path := range matches {
		mdt := ExtractMDT(path)
		if mdt == "" {
			s.log.Warn("path did not contain an MDT component, skipping", zap.String("path", path))
			continue
		}

		lines, err := readLines(path)
		if err != nil {
			s.log.Warn("skipping unreadable action-log file this cycle",
				zap.String("path", path), zap.String("mdt", mdt), zap.Error(err))
			continue
		}

		records := make([]*action.Record, 0, len(lines))
		for _, line := range lines {
			rec, ok := ParseLine(mdt, line)
			if !ok {
				s.log.Warn("dropping unparseable action-log line",
					zap.String("mdt", mdt), zap.String("line", line))
				continue
			}
			records = append(records, rec)
		}
		// A file present with zero parseable lines still needs to appear in
		// the result so the differ can purge everything previously cached
		// for this MDT (spec §4.1, §8 scenario 8).
		out[mdt] = records
	}
	return out
}

// ExtractMDT pulls the "*-MDT????" path component out of an action-log path.
func ExtractMDT(path string) string {
	m := mdtPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	raw := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// ParseLine extracts cat_idx/rec_idx, fid, action and status from one
// whitespace-tokenised action-log line. Lines lacking idx= or fid= are
// rejected per §4.1.
func ParseLine(mdt, line string) (*action.Record, bool) {
	idxMatch := idxPattern.FindStringSubmatch(line)
	if idxMatch == nil {
		return nil, false
	}
	catIdx, err := strconv.ParseUint(idxMatch[1], 10, 64)
	if err != nil {
		return nil, false
	}
	recIdx, err := strconv.ParseUint(idxMatch[2], 10, 64)
	if err != nil {
		return nil, false
	}

	fidMatch := fidPattern.FindStringSubmatch(line)
	if fidMatch == nil {
		return nil, false
	}

	rec := &action.Record{
		Key: action.PrimaryKey{
			MDT:    mdt,
			CatIdx: catIdx,
			RecIdx: recIdx,
		},
		FID: fidMatch[1],
		Raw: line,
	}
	if m := actionPattern.FindStringSubmatch(line); m != nil {
		rec.Action = m[1]
	}
	if m := statusPattern.FindStringSubmatch(line); m != nil {
		rec.Status = m[1]
	}
	rec.Hash = action.HashRaw(rec.Raw)
	return rec, true
}
