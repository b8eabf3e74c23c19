package api

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// How often to log stats (when enabled).
	statsLogInterval = 5 * time.Minute

	// How long to keep call timestamps for the rolling window.
	rollingWindowDuration = time.Hour
)

// EndpointStats tracks metrics for a single REST endpoint.
type EndpointStats struct {
	Count       int64 // total calls
	TotalTimeNs int64 // for computing avg latency
	Errors      int64 // failed calls
}

// Stats tracks Remote API call statistics and periodically logs a summary,
// which is the only observability this client needs: there is no metrics
// exporter, just a line in the log every five minutes.
type Stats struct {
	mu              sync.RWMutex
	endpoints       map[string]*EndpointStats
	recentCalls     []time.Time // timestamps for rolling hourly window
	rateLimitWaitNs int64       // total time waiting for rate limiter (atomic)
	startTime       time.Time
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewStats creates a new stats tracker and starts its periodic logger.
func NewStats() *Stats {
	s := &Stats{
		endpoints:   make(map[string]*EndpointStats),
		recentCalls: make([]time.Time, 0, 256),
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.periodicLogger()
	return s
}

// Record records an API call with its endpoint name, duration, and any
// error. Safe for concurrent use.
func (s *Stats) Record(endpoint string, duration time.Duration, err error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.endpoints[endpoint]
	if !ok {
		stats = &EndpointStats{}
		s.endpoints[endpoint] = stats
	}

	stats.Count++
	stats.TotalTimeNs += duration.Nanoseconds()
	if err != nil {
		stats.Errors++
	}

	s.recentCalls = append(s.recentCalls, now)

	cutoff := now.Add(-rollingWindowDuration)
	firstValid := 0
	for i, t := range s.recentCalls {
		if t.After(cutoff) {
			firstValid = i
			break
		}
	}
	if firstValid > 0 {
		s.recentCalls = s.recentCalls[firstValid:]
	}
}

// RecordRateLimitWait records time spent waiting for the rate limiter.
func (s *Stats) RecordRateLimitWait(duration time.Duration) {
	atomic.AddInt64(&s.rateLimitWaitNs, duration.Nanoseconds())
}

// HourlyCount returns the number of API calls in the last hour.
func (s *Stats) HourlyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-rollingWindowDuration)
	count := 0
	for _, t := range s.recentCalls {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// RateLimitWaitTotal returns the total time spent waiting for the rate
// limiter across the client's lifetime.
func (s *Stats) RateLimitWaitTotal() time.Duration {
	return time.Duration(atomic.LoadInt64(&s.rateLimitWaitNs))
}

// Summary returns a formatted summary of API stats.
func (s *Stats) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	fiveMinAgo := now.Add(-5 * time.Minute)
	recentCount := 0
	for _, t := range s.recentCalls {
		if t.After(fiveMinAgo) {
			recentCount++
		}
	}

	hourAgo := now.Add(-rollingWindowDuration)
	hourlyCount := 0
	for _, t := range s.recentCalls {
		if t.After(hourAgo) {
			hourlyCount++
		}
	}

	rateLimitWait := time.Duration(atomic.LoadInt64(&s.rateLimitWaitNs))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[API-STATS] 5min: %d calls | %d/hr", recentCount, hourlyCount))
	if rateLimitWait > 0 {
		sb.WriteString(fmt.Sprintf(" | rate-wait: %s", formatDuration(rateLimitWait)))
	}
	sb.WriteString("\n")

	type entry struct {
		name  string
		stats *EndpointStats
	}
	endpoints := make([]entry, 0, len(s.endpoints))
	for name, stats := range s.endpoints {
		endpoints = append(endpoints, entry{name, stats})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].stats.Count > endpoints[j].stats.Count
	})

	for _, e := range endpoints {
		avgMs := float64(e.stats.TotalTimeNs) / float64(e.stats.Count) / 1e6
		line := fmt.Sprintf("  %-25s %4d  avg:%s", e.name, e.stats.Count, formatMillis(avgMs))
		if e.stats.Errors > 0 {
			line += fmt.Sprintf("  errors:%d", e.stats.Errors)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Close stops the periodic logger and waits for it to finish.
func (s *Stats) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Stats) periodicLogger() {
	defer s.wg.Done()

	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Print(s.Summary())
		case <-s.stopCh:
			log.Print("[API-STATS] Final stats:\n" + s.Summary())
			return
		}
	}
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func formatMillis(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}
