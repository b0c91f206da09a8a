package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"linechat/internal/config"
	"linechat/internal/server"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = "8000"
)

func prompt(r *bufio.Reader, label, def string) string {
	fmt.Printf("%s (default %s): ", label, def)
	line, err := r.ReadString('\n')
	if err != nil {
		return def
	}
	if line = strings.TrimSpace(line); line == "" {
		return def
	}
	return line
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := cfg.Logger("linechat-server")

	in := bufio.NewReader(os.Stdin)
	host := prompt(in, "Server host", defaultHost)
	port := prompt(in, "Server port", defaultPort)
	if _, err := strconv.Atoi(port); err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", port)
		os.Exit(2)
	}
	addr := net.JoinHostPort(host, port)

	srv := server.New(cfg, log)

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		srv.Shutdown()
		os.Exit(1)
	}()

	fmt.Printf("Server started at host %s\n", addr)
	if err := srv.ListenAndServe(addr); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(2)
	}
}
