package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	balances    atomic.Int64
	heartbeats  atomic.Int64
	lastIndex   atomic.Uint64
}

type summary struct {
	Connected   int64
	ConnectErrs int64
	StreamErrs  int64
	Balances    int64
	Heartbeats  int64
	LastIndex   uint64
	PerSecond   float64
}

func (s *stats) summary(elapsed time.Duration) summary {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	balances := s.balances.Load()
	return summary{
		Connected:   s.connected.Load(),
		ConnectErrs: s.connectErrs.Load(),
		StreamErrs:  s.streamErrs.Load(),
		Balances:    balances,
		Heartbeats:  s.heartbeats.Load(),
		LastIndex:   s.lastIndex.Load(),
		PerSecond:   float64(balances) / elapsed.Seconds(),
	}
}

// readStream counts frames until r ends. A balance frame is counted once its
// data line arrives.
func readStream(r io.Reader, st *stats) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
			st.heartbeats.Add(1)
		case strings.HasPrefix(line, "id: "):
			if idx, err := strconv.ParseUint(strings.TrimPrefix(line, "id: "), 10, 64); err == nil {
				st.lastIndex.Store(idx)
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "balance":
			st.balances.Add(1)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
