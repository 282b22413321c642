// Command sse_load opens many subscriptions to the fxdesk balance stream and
// reports how many balance frames and heartbeats arrived.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	var (
		baseURL     string
		userID      string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:3000/api/balance/stream", "balance stream URL")
	flag.StringVar(&userID, "user", "", "only subscribe to snapshots of this user")
	flag.IntVar(&connections, "conns", 500, "number of concurrent subscriptions")
	flag.DurationVar(&duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	log := logger.Sugar()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}
	target, err := streamURL(baseURL, userID)
	if err != nil {
		log.Fatalf("invalid url: %v", err)
	}
	if rampUp == 0 && connections > 100 {
		rampUp = defaultRamp(connections)
		log.Infof("no ramp-up given, using %s", rampUp)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConns:        connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Infow("starting balance stream load", "url", target, "conns", connections, "duration", duration, "ramp", rampUp)

	st := &stats{}
	start := time.Now()

	go report(ctx, log, st, start)

	var wg sync.WaitGroup
	interval := rampUp / time.Duration(connections)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, target, st)
		}()
	}
	wg.Wait()

	s := st.summary(time.Since(start))
	log.Infow("done",
		"connected", s.Connected,
		"connect_errs", s.ConnectErrs,
		"stream_errs", s.StreamErrs,
		"balances", s.Balances,
		"heartbeats", s.Heartbeats,
		"last_index", s.LastIndex,
		"balances_per_sec", s.PerSecond)
}

func report(ctx context.Context, log *zap.SugaredLogger, st *stats, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := st.summary(time.Since(start))
			log.Infow("status",
				"connected", s.Connected,
				"connect_errs", s.ConnectErrs,
				"stream_errs", s.StreamErrs,
				"balances", s.Balances,
				"elapsed", time.Since(start).Truncate(time.Second))
		}
	}
}

func subscribe(ctx context.Context, client *http.Client, target string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}

	st.connected.Add(1)
	if err := readStream(resp.Body, st); err != nil && ctx.Err() == nil {
		st.streamErrs.Add(1)
	}
}

func streamURL(base, userID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if userID != "" {
		q := u.Query()
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// defaultRamp is one second per 500 connections, at least one second.
func defaultRamp(connections int) time.Duration {
	ramp := time.Duration(connections/500) * time.Second
	if ramp < time.Second {
		ramp = time.Second
	}
	return ramp
}
