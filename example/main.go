package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	quakefeed "github.com/st-keller/quakefeed-client"
	"github.com/st-keller/quakefeed-client/config"
	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/standard"
)

// seenCapacity bounds the watch-mode memory of printed events.
const seenCapacity = 1024

// printer is the console Consumer.
type printer struct {
	out     io.Writer
	seen    *lru.Cache[string, struct{}] // nil outside watch mode
	results chan earthquake.Result
}

func (p *printer) OnLoadStarted() {
	if p.seen == nil {
		fmt.Fprintln(p.out, "Loading...")
	}
}

func (p *printer) OnLoadFinished(result earthquake.Result) {
	switch result.Kind() {
	case earthquake.Failure:
		fmt.Fprintf(p.out, "Load failed (%s): %v\n", result.FailureKind(), result.Err())
	case earthquake.Empty:
		if p.seen == nil {
			fmt.Fprintln(p.out, "No earthquakes found.")
		}
	default:
		for _, r := range result.Records() {
			if p.seen != nil {
				if ok, _ := p.seen.ContainsOrAdd(r.URL(), struct{}{}); ok {
					continue
				}
			}
			fmt.Fprintf(p.out, "M%-4.1f  %-40s  %s  %s\n",
				r.Magnitude(), r.Location(), r.Time().Local().Format("Jan 2, 2006 3:04 PM"), r.URL())
		}
		if n := result.Skipped(); n > 0 {
			fmt.Fprintf(p.out, "(%d malformed events skipped)\n", n)
		}
	}

	select {
	case p.results <- result:
	default:
	}
}

func (p *printer) OnLoadReset() {}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	minMag := flag.String("minmag", "", "minimum magnitude (overrides config)")
	orderBy := flag.String("orderby", "", "time, time-asc, magnitude or magnitude-asc (overrides config)")
	watch := flag.Bool("watch", false, "poll every poll_interval and print only new events")
	offline := flag.Bool("offline", false, "simulate missing connectivity")
	strict := flag.Bool("strict", false, "reject the whole feed if any event is malformed")
	verbose := flag.Bool("v", false, "mirror client logs to stderr")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	cfg = cfg.Merge(config.Config{MinMagnitude: *minMag, OrderBy: *orderBy})

	opts := quakefeed.Options{Strict: *strict, LogOutput: io.Discard}
	if *verbose {
		opts.LogOutput = os.Stderr
	}
	if *offline {
		opts.Connectivity = standard.NewStaticMonitor(false)
	}

	client, err := quakefeed.New(cfg, opts)
	if err != nil {
		log.Fatalf("❌ Failed to create client: %v", err)
	}
	defer client.Stop()

	p := &printer{out: os.Stdout, results: make(chan earthquake.Result, 1)}
	if *watch {
		p.seen, err = lru.New[string, struct{}](seenCapacity)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	client.Attach(p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Load()

	if !*watch {
		select {
		case <-p.results:
		case <-ctx.Done():
		}
		return
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log.Printf("👀 Watching %s every %s (minmag %s, orderby %s)",
		cfg.Endpoint, interval, client.Preferences().MinMagnitude(), client.Preferences().OrderBy())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			client.Load()
		case <-ctx.Done():
			log.Println("🛑 Shutting down...")
			return
		}
	}
}
