// Package serve starts the MCP server on the transports a Config selects.
package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/term"

	"github.com/Nileshshinde09/cortex/core/cortex"
	"github.com/Nileshshinde09/cortex/internal/api"
	"github.com/Nileshshinde09/cortex/internal/config"
	"github.com/Nileshshinde09/cortex/internal/logging"
	"github.com/Nileshshinde09/cortex/internal/mcp"
	"github.com/Nileshshinde09/cortex/internal/metrics"
)

const instructions = "Tools for a cortex database: cortex_tables lists tables, " +
	"cortex_schema describes them, cortex_query runs read-only SELECTs and " +
	"cortex_execute runs statements that change data or schema."

// IO holds the process streams. Zero fields default to the os streams.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// IsTerminal reports whether Stdin is interactive; stdio is not served
	// to a terminal.
	IsTerminal func() bool
	// Listen opens listeners; tests bind to port 0 through it.
	Listen func(addr string) (net.Listener, error)
}

func (p *IO) defaults() {
	if p.Stdin == nil {
		p.Stdin = os.Stdin
	}
	if p.Stdout == nil {
		p.Stdout = os.Stdout
	}
	if p.Stderr == nil {
		p.Stderr = os.Stderr
	}
	if p.IsTerminal == nil {
		p.IsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	if p.Listen == nil {
		p.Listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }
	}
}

// Run opens the configured database and serves it until ctx is done or,
// in stdio mode, until the client closes stdin. Errors from every
// transport are collected.
func Run(ctx context.Context, cfg *config.Config, p IO) error {
	p.defaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var opts []cortex.Option
	if cfg.ReadOnly {
		opts = append(opts, cortex.WithReadOnly())
	}
	db, err := cortex.OpenContext(ctx, cfg.Database, opts...)
	if err != nil {
		return err
	}
	defer db.Close()
	logging.DatabaseEvent("opened", cfg.Database, "read_only", cfg.ReadOnly)

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
		if err := m.Register(metrics.NewDatabaseCollector(cfg.Database, Stats(db))); err != nil {
			return err
		}
	}
	srv := mcp.NewServer(db, mcp.Options{
		ReadOnly:       cfg.ReadOnly,
		SchemaCacheTTL: cfg.SchemaCacheTTL,
		Metrics:        m,
		Instructions:   instructions,
	})

	Banner(p.Stderr, cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	mode := cfg.Transport
	if mode == config.TransportHTTP || mode == config.TransportAll {
		h, err := listener(cfg, cfg.Port, true, false, srv, m, p)
		if err != nil {
			return err
		}
		start("http", h)
	}
	if mode == config.TransportWebSocket || mode == config.TransportAll {
		h, err := listener(cfg, cfg.WebSocketPort(), false, true, srv, m, p)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		start("websocket", h)
	}
	if mode == config.TransportStdio || mode == config.TransportAll {
		if p.IsTerminal() {
			logging.Warn("stdin is a terminal, stdio transport not started")
		} else {
			stdioDone := mode == config.TransportStdio
			start("stdio", func(ctx context.Context) error {
				err := srv.ServeStdio(ctx, p.Stdin, p.Stdout)
				if stdioDone {
					cancel()
				}
				return err
			})
		}
	}

	wg.Wait()
	return result.ErrorOrNil()
}

func listener(cfg *config.Config, port int, httpRoutes, wsRoutes bool, srv *mcp.Server, m *metrics.Metrics, p IO) (func(context.Context) error, error) {
	s, err := api.New(api.FromConfig(cfg, port, httpRoutes, wsRoutes), srv, m)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	ln, err := p.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return func(ctx context.Context) error { return s.Serve(ctx, ln) }, nil
}

// Stats reads page and table counts for the database collector.
func Stats(db *cortex.Conn) metrics.StatsFunc {
	return func(ctx context.Context) (metrics.DBStats, error) {
		var st metrics.DBStats
		row, err := db.FetchOne(ctx, `SELECT
			(SELECT page_count FROM pragma_page_count()) AS pages,
			(SELECT page_size FROM pragma_page_size()) AS size,
			(SELECT freelist_count FROM pragma_freelist_count()) AS free`)
		if err != nil {
			return st, err
		}
		st.PageCount, _ = row["pages"].(int64)
		st.PageSize, _ = row["size"].(int64)
		st.FreePages, _ = row["free"].(int64)
		tables, err := db.Tables(ctx)
		if err != nil {
			return st, err
		}
		st.Tables = int64(len(tables))
		return st, nil
	}
}

// Banner prints the endpoints and auth status. The API key is masked.
func Banner(w io.Writer, cfg *config.Config) {
	rule := strings.Repeat("━", 40)
	scheme, wsScheme := "http", "ws"
	if cfg.TLS.Enabled() {
		scheme, wsScheme = "https", "wss"
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  Cortex MCP Server")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Database  : %s\n", cfg.Database)
	switch cfg.Transport {
	case config.TransportHTTP, config.TransportAll:
		base := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
		fmt.Fprintf(w, "  HTTP+SSE  : %s/mcp\n", base)
		fmt.Fprintf(w, "  SSE       : %s/sse\n", base)
	}
	switch cfg.Transport {
	case config.TransportWebSocket, config.TransportAll:
		fmt.Fprintf(w, "  WebSocket : %s://%s/ws\n", wsScheme, net.JoinHostPort(host, strconv.Itoa(cfg.WebSocketPort())))
	}
	if cfg.Transport == config.TransportStdio || cfg.Transport == config.TransportAll {
		fmt.Fprintln(w, "  Transport : stdio")
	}
	if cfg.AuthEnabled() {
		fmt.Fprintln(w, "  Auth      : enabled")
		fmt.Fprintf(w, "  API Key   : %s\n", cfg.MaskedKey())
	} else {
		fmt.Fprintln(w, "  Auth      : disabled")
	}
	if cfg.ReadOnly {
		fmt.Fprintln(w, "  Mode      : read-only")
	}
	fmt.Fprintln(w, rule)
}
