package quakefeed

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sync"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/time/rate"

	"github.com/st-keller/quakefeed-client/config"
	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/feature"
	"github.com/st-keller/quakefeed-client/loader"
	"github.com/st-keller/quakefeed-client/request"
	"github.com/st-keller/quakefeed-client/standard"
	"github.com/st-keller/quakefeed-client/transport"
	"github.com/st-keller/quakefeed-client/types"
)

// Options holds the collaborators that are not part of the file/env configuration.
type Options struct {
	// Connectivity reports whether a load may touch the network.
	// Default: a standard.DialMonitor on the endpoint host, or on the proxy
	// from HTTP_PROXY/HTTPS_PROXY/NO_PROXY when one applies.
	Connectivity types.ConnectivityMonitor

	// Dispatcher delivers Consumer callbacks. Default: the loader's serial queue.
	Dispatcher loader.Dispatcher

	// LogOutput receives mirrored log lines. Default: os.Stderr.
	LogOutput io.Writer

	// Preferences supplies the query values read at every Load and Reload.
	// Default: the client's own *config.Preferences seeded from the Config.
	// A provider with an OnChange(func(key string)) method reloads on change.
	Preferences types.ConfigProvider

	// Strict rejects the whole feed when any feature is malformed.
	Strict bool
}

// changeNotifier is implemented by providers that report value changes.
type changeNotifier interface {
	OnChange(fn func(key string))
}

// Client wires configuration, transport, extraction and the loader together.
type Client struct {
	config config.Config
	info   *standard.ClientInfo
	prefs    *config.Preferences
	provider types.ConfigProvider
	loader   *loader.Loader

	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker

	mu      sync.Mutex
	stopped bool
}

// New validates cfg and builds a Client. No request is made until Load.
func New(cfg config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logs := standard.NewRecentLogsTo(100, out)
	tracker := standard.NewConnectivityTracker()
	info := standard.AutoDetect("quakefeed-client", Version)

	if cfg.CAPath != "" {
		// BuildHTTPClient reports an unreadable bundle; this only adds expiry warnings
		_, _ = standard.ReportCABundle(cfg.CAPath, logs)
	}

	httpClient, err := transport.BuildHTTPClient(transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		CAPath:         cfg.CAPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	fetcherOpts := []transport.FetcherOption{
		transport.WithTracker(tracker),
		transport.WithLogs(logs),
		transport.WithUserAgent(info.UserAgent()),
	}
	if cfg.RateLimit > 0 {
		fetcherOpts = append(fetcherOpts, transport.WithRateLimit(rate.NewLimiter(rate.Every(cfg.RateLimit), 1)))
	}
	fetcher := transport.NewFetcher(httpClient, fetcherOpts...)

	monitor := opts.Connectivity
	if monitor == nil {
		addr, err := monitorAddress(cfg.Endpoint, httpproxy.FromEnvironment().ProxyFunc())
		if err != nil {
			return nil, err
		}
		monitor = standard.DialMonitor{Address: addr}
	}

	loaderOpts := []loader.Option{
		loader.WithLogs(logs),
		loader.WithAttemptTimeout(cfg.ConnectTimeout + cfg.ReadTimeout),
	}
	if opts.Dispatcher != nil {
		loaderOpts = append(loaderOpts, loader.WithDispatcher(opts.Dispatcher))
	}
	l, err := loader.New(loader.Deps{
		Endpoint:     cfg.Endpoint,
		Fetcher:      fetcher,
		Extractor:    feature.Extractor{Strict: opts.Strict, Logs: logs},
		Connectivity: monitor,
		Consumer:     nopConsumer{},
	}, loaderOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:       cfg,
		info:         info,
		prefs:        config.NewPreferences(cfg),
		provider:     opts.Preferences,
		loader:       l,
		logs:         logs,
		connectivity: tracker,
	}
	if c.provider == nil {
		c.provider = c.prefs
	}
	if n, ok := c.provider.(changeNotifier); ok {
		n.OnChange(c.onPreferenceChanged)
	}

	ctx := info.Data()
	ctx["endpoint"] = cfg.Endpoint
	logs.Info("Client initialized", ctx)

	return c, nil
}

// monitorAddress derives the host:port dialled by the default connectivity
// monitor: the proxy the transport would use for endpoint, else the endpoint host.
func monitorAddress(endpoint string, proxy func(*url.URL) (*url.URL, error)) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if proxy != nil {
		p, err := proxy(u)
		if err != nil {
			return "", fmt.Errorf("resolve proxy: %w", err)
		}
		if p != nil {
			u = p
		}
	}
	return hostPort(u), nil
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (c *Client) onPreferenceChanged(key string) {
	c.logs.Info("Preference changed, reloading", map[string]interface{}{
		"key": key,
	})
	c.Reload()
}

// Attach sets the Consumer. A previously delivered result is redelivered to it.
func (c *Client) Attach(consumer loader.Consumer) {
	c.loader.Attach(consumer)
}

// Load starts a load with the current preferences. It reports false when a
// load is already running or the client is stopped.
func (c *Client) Load() bool {
	return c.loader.Start(c.params())
}

// Reload discards any cached or in-flight result and loads again.
func (c *Client) Reload() {
	c.loader.Restart(c.params())
}

// params reads the provider, using its own snapshot when it offers one.
func (c *Client) params() request.Params {
	if s, ok := c.provider.(interface{ Params() request.Params }); ok {
		return s.Params()
	}
	return request.ParamsFrom(c.provider)
}

// Reset clears the cached result without loading.
func (c *Client) Reset() {
	c.loader.Reset()
}

// Cached returns the last delivered result, if any.
func (c *Client) Cached() (earthquake.Result, bool) {
	_, result, ok := c.loader.Cached()
	return result, ok
}

// State returns the loader state.
func (c *Client) State() loader.State {
	return c.loader.State()
}

// Wait blocks until in-flight loads and their callbacks are done.
func (c *Client) Wait() {
	c.loader.Wait()
}

// Stop waits for in-flight work and stops accepting loads.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.loader.Close()
	c.logs.Info("Client stopped", nil)
}

// Preferences returns the client's own preferences. They drive loads unless
// Options.Preferences supplied another provider.
func (c *Client) Preferences() *config.Preferences {
	return c.prefs
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config {
	return c.config
}

// Info returns the client identity.
func (c *Client) Info() *standard.ClientInfo {
	return c.info
}

// Logs returns the recent logs tracker.
func (c *Client) Logs() *standard.RecentLogs {
	return c.logs
}

// Connectivity returns the fetch statistics tracker.
func (c *Client) Connectivity() *standard.ConnectivityTracker {
	return c.connectivity
}

// nopConsumer stands in until Attach is called.
type nopConsumer struct{}

func (nopConsumer) OnLoadStarted()                   {}
func (nopConsumer) OnLoadFinished(earthquake.Result) {}
func (nopConsumer) OnLoadReset()                     {}
