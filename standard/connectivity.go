package standard

import (
	"sort"
	"sync"
	"time"
)

// FetchCall represents a single request to the feed.
type FetchCall struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// endpointCalls tracks calls to a single endpoint.
type endpointCalls struct {
	url   string
	calls []FetchCall
}

// EndpointStats is the summary reported for one endpoint over the retention window.
type EndpointStats struct {
	URL          string
	Status       string // "healthy", "degraded" or "unhealthy"
	LastCall     time.Time
	TotalCalls   int
	SuccessRate  float64
	LatencyP50   time.Duration
	LatencyP95   time.Duration
	LatencyP99   time.Duration
	RecentErrors []string
}

// ConnectivityTracker records feed calls and summarizes them per endpoint.
type ConnectivityTracker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointCalls
	retention time.Duration
	now       func() time.Time
}

// NewConnectivityTracker creates a tracker that keeps the last hour of calls.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		endpoints: make(map[string]*endpointCalls),
		retention: time.Hour,
		now:       time.Now,
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(url string, latency time.Duration) {
	t.track(url, FetchCall{Success: true, Latency: latency})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(url string, latency time.Duration, errorMsg string) {
	t.track(url, FetchCall{Success: false, Latency: latency, Error: errorMsg})
}

func (t *ConnectivityTracker) track(url string, call FetchCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call.Timestamp = t.now().UTC()

	ep, ok := t.endpoints[url]
	if !ok {
		ep = &endpointCalls{url: url}
		t.endpoints[url] = ep
	}
	ep.calls = append(ep.calls, call)
	t.prune(ep)
}

// prune drops calls older than the retention window.
func (t *ConnectivityTracker) prune(ep *endpointCalls) {
	cutoff := t.now().Add(-t.retention)
	for i, call := range ep.calls {
		if call.Timestamp.After(cutoff) {
			ep.calls = ep.calls[i:]
			return
		}
	}
	ep.calls = nil
}

// Stats returns per-endpoint summaries sorted by URL.
func (t *ConnectivityTracker) Stats() []EndpointStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]EndpointStats, 0, len(t.endpoints))
	for _, ep := range t.endpoints {
		t.prune(ep)
		if len(ep.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]time.Duration, 0, len(ep.calls))
		recentErrors := make([]string, 0)

		for _, call := range ep.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, call.Latency)
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		successRate := float64(successCount) / float64(len(ep.calls))
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		status := "healthy"
		if successRate < 0.9 {
			status = "unhealthy"
		} else if successRate < 0.95 {
			status = "degraded"
		}

		out = append(out, EndpointStats{
			URL:          ep.url,
			Status:       status,
			LastCall:     lastCall,
			TotalCalls:   len(ep.calls),
			SuccessRate:  successRate,
			LatencyP50:   percentile(latencies, 0.50),
			LatencyP95:   percentile(latencies, 0.95),
			LatencyP99:   percentile(latencies, 0.99),
			RecentErrors: recentErrors,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
