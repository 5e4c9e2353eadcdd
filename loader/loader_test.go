package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/feature"
	"github.com/st-keller/quakefeed-client/request"
	"github.com/st-keller/quakefeed-client/standard"
	"github.com/st-keller/quakefeed-client/transport"
	"github.com/st-keller/quakefeed-client/types"
)

const twoFeatures = `{"features":[` +
	`{"properties":{"mag":5.1,"place":"Tokyo","time":1000,"url":"http://a"}},` +
	`{"properties":{"mag":6.2,"place":"Chile","time":2000,"url":"http://b"}}]}`

const staleFeature = `{"features":[` +
	`{"properties":{"mag":1.0,"place":"Stale","time":1,"url":"http://stale"}}]}`

type event struct {
	kind   string
	result earthquake.Result
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) OnLoadStarted() {
	r.add(event{kind: "started"})
}

func (r *recorder) OnLoadFinished(res earthquake.Result) {
	r.add(event{kind: "finished", result: res})
}

func (r *recorder) OnLoadReset() {
	r.add(event{kind: "reset"})
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) kinds() []string {
	var out []string
	for _, e := range r.snapshot() {
		out = append(out, e.kind)
	}
	return out
}

func (r *recorder) finished() []earthquake.Result {
	var out []earthquake.Result
	for _, e := range r.snapshot() {
		if e.kind == "finished" {
			out = append(out, e.result)
		}
	}
	return out
}

// fakeFetcher answers by minmag; a minmag with a gate blocks until the gate closes.
type fakeFetcher struct {
	mu     sync.Mutex
	urls   []string
	bodies map[string]string
	gates  map[string]chan struct{}
	err    error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: make(map[string]string),
		gates:  make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	minmag := u.Query().Get("minmag")

	f.mu.Lock()
	f.urls = append(f.urls, raw)
	gate := f.gates[minmag]
	body := f.bodies[minmag]
	fetchErr := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return body, fetchErr
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func newTestLoader(t *testing.T, fetcher Fetcher, online bool, c Consumer) *Loader {
	t.Helper()
	l, err := New(Deps{
		Endpoint:     "https://example.com/query",
		Fetcher:      fetcher,
		Extractor:    ExtractorFunc(feature.Extract),
		Connectivity: types.ConnectivityFunc(func() bool { return online }),
		Consumer:     c,
	}, WithLogs(standard.NewRecentLogsTo(100, nil)))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func params(minmag string) request.Params {
	return request.Params{MinMagnitude: minmag, OrderBy: request.OrderTime}
}

func TestStartDeliversSuccess(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["2.5"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	require.True(t, l.Start(params("2.5")))
	l.Wait()

	assert.Equal(t, []string{"started", "finished"}, rec.kinds())
	res := rec.finished()[0]
	require.Equal(t, earthquake.Success, res.Kind())
	assert.Equal(t, 2, res.Len())
	assert.Equal(t, Delivered, l.State())

	gen, cached, ok := l.Cached()
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, 2, cached.Len())
}

func TestRestartDropsStaleGeneration(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["1"] = gate
	f.bodies["1"] = staleFeature
	f.bodies["2"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Restart(params("1"))
	l.Restart(params("2"))

	require.Eventually(t, func() bool { return len(rec.finished()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// The first worker completes only after the second generation delivered.
	close(gate)
	l.Wait()

	finished := rec.finished()
	require.Len(t, finished, 1)
	recs := finished[0].Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "Tokyo", recs[0].Location())
	assert.Equal(t, 2, f.calls())
	assert.Equal(t, uint64(2), l.Generation())

	gen, _, ok := l.Cached()
	require.True(t, ok)
	assert.Equal(t, uint64(2), gen)
}

func TestRestartDropsStaleGenerationFinishingFirst(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["2"] = gate
	f.bodies["1"] = staleFeature
	f.bodies["2"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Restart(params("1"))
	l.Restart(params("2"))
	close(gate)
	l.Wait()

	finished := rec.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, "Tokyo", finished[0].Records()[0].Location())
}

func TestStartCoalesces(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["2.5"] = gate
	f.bodies["2.5"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	require.True(t, l.Start(params("2.5")))
	assert.False(t, l.Start(params("2.5")))
	assert.Equal(t, Loading, l.State())

	close(gate)
	l.Wait()

	assert.Equal(t, 1, f.calls())
	assert.Equal(t, []string{"started", "finished"}, rec.kinds())

	// Once delivered, Start loads again.
	require.True(t, l.Start(params("2.5")))
	l.Wait()
	assert.Equal(t, 2, f.calls())
	assert.Len(t, rec.finished(), 2)
}

func TestStartOffline(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	l := newTestLoader(t, f, false, rec)

	require.True(t, l.Start(params("2.5")))
	l.Wait()

	assert.Zero(t, f.calls())
	finished := rec.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, earthquake.Failure, finished[0].Kind())
	assert.Equal(t, earthquake.NoConnectivity, finished[0].FailureKind())
	assert.True(t, errors.Is(finished[0].Err(), earthquake.ErrNoConnectivity))
}

func TestResetOnIdle(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Reset()
	l.Wait()

	assert.Equal(t, []string{"reset"}, rec.kinds())
	assert.Zero(t, f.calls())
	assert.Equal(t, Idle, l.State())
	assert.Equal(t, uint64(0), l.Generation())
}

func TestResetInvalidatesInFlightLoad(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["2.5"] = gate
	f.bodies["2.5"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Start(params("2.5"))
	l.Reset()
	close(gate)
	l.Wait()

	assert.Equal(t, []string{"started", "reset"}, rec.kinds())
	_, _, ok := l.Cached()
	assert.False(t, ok)
	assert.Equal(t, Idle, l.State())
}

func TestResetClearsCache(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["2.5"] = twoFeatures
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Start(params("2.5"))
	l.Wait()
	l.Reset()
	l.Wait()

	_, _, ok := l.Cached()
	assert.False(t, ok)
	assert.Equal(t, []string{"started", "finished", "reset"}, rec.kinds())
}

func TestInvalidParamsFailWithoutNetwork(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Start(request.Params{MinMagnitude: "lots", OrderBy: request.OrderTime})
	l.Wait()

	assert.Zero(t, f.calls())
	finished := rec.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, earthquake.InvalidRequest, finished[0].FailureKind())
}

func TestFailureLeavesLoaderUsable(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.New("connection reset by peer")
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Start(params("2.5"))
	l.Wait()

	f.mu.Lock()
	f.err = nil
	f.bodies["2.5"] = twoFeatures
	f.mu.Unlock()

	require.True(t, l.Start(params("2.5")))
	l.Wait()

	finished := rec.finished()
	require.Len(t, finished, 2)
	assert.Equal(t, earthquake.NetworkError, finished[0].FailureKind())
	assert.Equal(t, earthquake.Success, finished[1].Kind())
}

func TestAttachRedeliversCachedResult(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["2.5"] = twoFeatures
	first := &recorder{}
	l := newTestLoader(t, f, true, first)

	l.Start(params("2.5"))
	l.Wait()

	second := &recorder{}
	l.Attach(second)
	l.Wait()

	assert.Equal(t, 1, f.calls())
	assert.Len(t, first.finished(), 1)
	require.Len(t, second.finished(), 1)
	assert.Equal(t, 2, second.finished()[0].Len())
}

func TestAttachWithoutCacheDeliversNothing(t *testing.T) {
	rec := &recorder{}
	l := newTestLoader(t, newFakeFetcher(), true, &recorder{})

	l.Attach(rec)
	l.Wait()
	assert.Empty(t, rec.snapshot())
}

func TestCallbackMayRestart(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["1"] = staleFeature
	f.bodies["2"] = twoFeatures

	var l *Loader
	rec := &recorder{}
	var once sync.Once
	c := &reentrant{recorder: rec, onFinished: func() {
		once.Do(func() { l.Restart(params("2")) })
	}}
	l = newTestLoader(t, f, true, c)

	l.Start(params("1"))
	require.Eventually(t, func() bool { return len(rec.finished()) == 2 }, 2*time.Second, 5*time.Millisecond)
	l.Wait()

	finished := rec.finished()
	assert.Equal(t, "Stale", finished[0].Records()[0].Location())
	assert.Equal(t, "Tokyo", finished[1].Records()[0].Location())
}

type reentrant struct {
	*recorder
	onFinished func()
}

func (r *reentrant) OnLoadFinished(res earthquake.Result) {
	r.recorder.OnLoadFinished(res)
	r.onFinished()
}

func TestCloseStopsLoads(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	l := newTestLoader(t, f, true, rec)

	l.Close()
	assert.False(t, l.Start(params("2.5")))
	assert.Zero(t, f.calls())
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestInlineDispatcher(t *testing.T) {
	rec := &recorder{}
	l, err := New(Deps{
		Endpoint:     "https://example.com/query",
		Fetcher:      newFakeFetcher(),
		Extractor:    ExtractorFunc(feature.Extract),
		Connectivity: types.ConnectivityFunc(func() bool { return false }),
		Consumer:     rec,
	}, WithDispatcher(Inline))
	require.NoError(t, err)
	defer l.Close()

	l.Start(params("2.5"))
	l.Wait()
	// Started runs on the calling goroutine, Finished on the worker.
	assert.Equal(t, []string{"started", "finished"}, rec.kinds())
}

func TestConsumerFuncs(t *testing.T) {
	var got []string
	c := ConsumerFuncs{
		Finished: func(res earthquake.Result) { got = append(got, "finished:"+res.Kind().String()) },
		Reset:    func() { got = append(got, "reset") },
	}
	l, err := New(Deps{
		Endpoint:     "https://example.com/query",
		Fetcher:      newFakeFetcher(),
		Extractor:    ExtractorFunc(feature.Extract),
		Connectivity: types.ConnectivityFunc(func() bool { return false }),
		Consumer:     c,
	}, WithDispatcher(Inline))
	require.NoError(t, err)
	defer l.Close()

	l.Start(params("2.5"))
	l.Wait()
	l.Reset()
	assert.Equal(t, []string{"finished:Failure", "reset"}, got)
}

func TestConnectivityCheckRunsOnWorker(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["2.5"] = twoFeatures
	rec := &recorder{}

	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	l, err := New(Deps{
		Endpoint:  "https://example.com/query",
		Fetcher:   f,
		Extractor: ExtractorFunc(feature.Extract),
		Connectivity: types.ConnectivityFunc(func() bool {
			<-release
			return true
		}),
		Consumer: rec,
	}, WithLogs(standard.NewRecentLogsTo(100, nil)))
	require.NoError(t, err)
	t.Cleanup(l.Close)

	returned := make(chan struct{})
	go func() {
		l.Start(params("2.5"))
		l.Restart(params("2.5"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		unblock()
		t.Fatal("Start/Restart blocked on the connectivity check")
	}
	assert.Equal(t, Loading, l.State())
	assert.Zero(t, f.calls())

	unblock()
	l.Wait()

	finished := rec.finished()
	require.Len(t, finished, 1, "only the restarted generation is delivered")
	assert.Equal(t, earthquake.Success, finished[0].Kind())
}

func TestInvalidParamsWinOverOffline(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	l := newTestLoader(t, f, false, rec)

	l.Start(request.Params{MinMagnitude: "x", OrderBy: request.OrderTime})
	l.Wait()

	finished := rec.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, earthquake.InvalidRequest, finished[0].FailureKind())
}

// manualQueue is a Dispatcher whose tasks run only when the test says so.
type manualQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *manualQueue) post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, fn)
}

func (q *manualQueue) run() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

func TestAttachRedeliveryDroppedWhenSuperseded(t *testing.T) {
	f := newFakeFetcher()
	f.bodies["2.5"] = staleFeature
	f.bodies["3"] = twoFeatures
	gate := make(chan struct{})
	f.gates["3"] = gate

	q := &manualQueue{}
	first := &recorder{}
	l, err := New(Deps{
		Endpoint:     "https://example.com/query",
		Fetcher:      f,
		Extractor:    ExtractorFunc(feature.Extract),
		Connectivity: standard.NewStaticMonitor(true),
		Consumer:     first,
	}, WithDispatcher(q.post), WithLogs(standard.NewRecentLogsTo(100, nil)))
	require.NoError(t, err)
	defer l.Close()

	l.Start(params("2.5"))
	l.Wait()
	q.run()
	require.Len(t, first.finished(), 1)

	second := &recorder{}
	l.Attach(second)
	l.Restart(params("3"))
	q.run()
	assert.Empty(t, second.finished(), "cached result from the old generation must not follow a Restart")

	close(gate)
	l.Wait()
	q.run()
	finished := second.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, "Tokyo", finished[0].Records()[0].Location())

	third := &recorder{}
	l.Attach(third)
	l.Reset()
	q.run()
	assert.Empty(t, third.finished(), "cached result must not follow a Reset")
	assert.Equal(t, []string{"reset"}, third.kinds())
}

func TestEndToEnd(t *testing.T) {
	var gotQuery url.Values
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.Query()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(twoFeatures))
	}))
	defer server.Close()

	client, err := transport.BuildHTTPClient(transport.DefaultOptions())
	require.NoError(t, err)

	rec := &recorder{}
	l, err := New(Deps{
		Endpoint:     server.URL + "/fdsnws/event/1/query",
		Fetcher:      transport.NewFetcher(client),
		Extractor:    feature.Extractor{},
		Connectivity: standard.NewStaticMonitor(true),
		Consumer:     rec,
	})
	require.NoError(t, err)
	defer l.Close()

	l.Start(request.Params{MinMagnitude: "2.5", OrderBy: request.OrderMagnitude})
	l.Wait()

	mu.Lock()
	assert.Equal(t, "geojson", gotQuery.Get("format"))
	assert.Equal(t, "10", gotQuery.Get("limit"))
	assert.Equal(t, "2.5", gotQuery.Get("minmag"))
	assert.Equal(t, "magnitude", gotQuery.Get("orderby"))
	mu.Unlock()

	finished := rec.finished()
	require.Len(t, finished, 1)
	require.Equal(t, earthquake.Success, finished[0].Kind())

	recs := finished[0].Records()
	require.Len(t, recs, 2)
	want := []struct {
		mag   float64
		place string
		time  int64
		url   string
	}{
		{5.1, "Tokyo", 1000, "http://a"},
		{6.2, "Chile", 2000, "http://b"},
	}
	for i, w := range want {
		assert.Equal(t, w.mag, recs[i].Magnitude())
		assert.Equal(t, w.place, recs[i].Location())
		assert.Equal(t, w.time, recs[i].TimeMillis())
		assert.Equal(t, w.url, recs[i].URL())
	}
}
