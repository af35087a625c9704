// Package main runs a hive server serving an API, a static document root
// and a WebSocket echo endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bamlan/hive/pkg/hive"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	root := flag.String("root", "", "static document root")
	rate := flag.Int("rate", -1, "large-file rate limit in KiB/s (0 forbids, <0 unlimited)")
	accessLog := flag.Bool("access-log", true, "enable the access log")
	flag.Parse()

	config := hive.DefaultConfig()
	config.Addr = *addr
	config.DocumentRoot = *root
	config.LimitRate = *rate
	config.EnableAccessLog = *accessLog
	config.Logger = log.New(os.Stdout, "hived ", log.LstdFlags)
	config.PingInterval = 30 * time.Second

	srv := hive.New(config)
	srv.Use(hive.Logger(), hive.RequestID())

	router := srv.Router()
	router.GET("/hello", func(c *hive.Context) int {
		return c.String(200, "hello from hive")
	})
	router.GET("/hello/:name", func(c *hive.Context) int {
		return c.JSON(200, map[string]string{"hello": c.Param("name")})
	})
	router.POST("/api/echo", func(req *hive.Request, resp *hive.Response) int {
		resp.ContentType = req.Headers.Get("Content-Type")
		resp.Body = append(resp.Body, req.Body...)
		return 200
	})
	router.GET("/api/slow", func(req *hive.Request, w *hive.ResponseWriter) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.WriteBody([]byte("done\n"))
		_ = w.End()
	})

	srv.WebSocket(&hive.WebSocketService{
		OnMessage: func(ch *hive.WebSocketChannel, opcode hive.Opcode, payload []byte) {
			_ = ch.Send(opcode, payload)
		},
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
