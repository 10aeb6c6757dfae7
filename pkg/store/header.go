package store

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dump payloads are prefixed with a textual header so a zone attached by
// a later generation can recover the dump's timestamp and compression
// flag without any side table:
//
//	"====" <sec> "." <6-digit usec> [ "-C" | "-D" ] "\n"
const dumpHdrPrefix = "===="

// maxDumpHdrLen bounds the header scan; anything without a newline this
// early is not a header.
const maxDumpHdrLen = 48

func formatDumpHeader(ts time.Time, compressed bool) []byte {
	c := byte('D')
	if compressed {
		c = 'C'
	}
	return []byte(fmt.Sprintf("%s%d.%06d-%c\n", dumpHdrPrefix, ts.Unix(), ts.Nanosecond()/1000, c))
}

// parseDumpHeader splits a stored dump into its timestamp, compression
// flag and payload. ok is false when the leading bytes are not a header,
// which the read path treats as zone corruption.
func parseDumpHeader(b []byte) (ts time.Time, compressed bool, payload []byte, ok bool) {
	if !bytes.HasPrefix(b, []byte(dumpHdrPrefix)) {
		return time.Time{}, false, nil, false
	}
	limit := len(b)
	if limit > maxDumpHdrLen {
		limit = maxDumpHdrLen
	}
	nl := bytes.IndexByte(b[:limit], '\n')
	if nl < 0 {
		return time.Time{}, false, nil, false
	}

	line := string(b[len(dumpHdrPrefix):nl])
	switch {
	case strings.HasSuffix(line, "-C"):
		compressed = true
		line = line[:len(line)-2]
	case strings.HasSuffix(line, "-D"):
		line = line[:len(line)-2]
	}

	secStr, usecStr, found := strings.Cut(line, ".")
	if !found {
		return time.Time{}, false, nil, false
	}
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, false, nil, false
	}
	usec, err := strconv.ParseInt(usecStr, 10, 64)
	if err != nil || usec < 0 {
		return time.Time{}, false, nil, false
	}
	return time.Unix(sec, usec*1000), compressed, b[nl+1:], true
}
