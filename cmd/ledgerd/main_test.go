package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"reserveledger/config"
	"reserveledger/native/bank"
	"reserveledger/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEngineAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.StalenessWindowHours = 12
	cfg.Ledger.MaxPurchasePerCall = 250
	engine, hub, err := newEngine(cfg, storage.NewStore(storage.NewMemDB()), bank.NewTokens(), bank.NewNative(), discardLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if hub == nil {
		t.Fatalf("expected stream hub")
	}
	params := engine.Params()
	if params.StalenessWindow != 12*time.Hour || params.MaxPurchasePerCall != 250 || params.PriceBandDivisor != 5 {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, addr, http.NotFoundHandler(), discardLogger())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never started: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
