// Command paintnetd serves collaborative drawing sessions over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/relay"
	"github.com/gogpu/paintnet/server"
	"github.com/gogpu/paintnet/store"
)

func main() {
	var (
		addr    = flag.String("addr", ":27750", "listen address")
		db      = flag.String("db", "", "session archive (bbolt file); empty disables persistence")
		redisAt = flag.String("redis", "", "redis address for publishing session streams")
		prefix  = flag.String("redis-prefix", relay.DefaultPrefix, "redis channel prefix")
		history = flag.Int("history", 10<<20, "history size in bytes before snapshotting")
		maxSize = flag.Int("max-size", server.DefaultMaxSize, "maximum canvas dimension")
		verbose = flag.Bool("verbose", false, "log debug messages")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	paintnet.SetLogger(logger)

	opts := []server.Option{
		server.WithHistorySize(*history),
		server.WithMaxSize(*maxSize),
		server.WithLogger(logger),
	}

	if *db != "" {
		st, err := store.Open(*db)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	if *redisAt != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAt})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis %s: %v", *redisAt, err)
		}
		opts = append(opts, server.WithSink(relay.New(rdb, *prefix)))
	}

	srv := server.New(opts...)
	if err := srv.Restore(); err != nil {
		log.Fatalf("restore sessions: %v", err)
	}
	defer srv.Close()

	hs := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	logger.Info("paintnetd: listening", "addr", *addr, "archive", *db, "redis", *redisAt)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("serve: %v", err)
	}
}
