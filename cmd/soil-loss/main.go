package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/obsrvr-soil-loss/internal/rusle"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] soil-loss %s (%s)", rusle.Version, rusle.GitSHA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] interrupted; rerun with --resume to continue")
			os.Exit(130)
		}
		log.Printf("[main] %v", err)
		os.Exit(1)
	}

	log.Println("[main] soil-loss stopped cleanly")
	time.Sleep(100 * time.Millisecond)
}
