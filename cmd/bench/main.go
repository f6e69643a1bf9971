package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zephyrrelay/internal/config"
	"github.com/ryandielhenn/zephyrrelay/internal/telemetry"
	"github.com/ryandielhenn/zephyrrelay/pkg/registry"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3490", "relay address")
	etcd := flag.String("etcd", "", "comma-separated etcd endpoints; picks a registered relay instead of -addr")
	clients := flag.Int("clients", 8, "concurrent senders")
	n := flag.Int("n", 100, "messages per sender")
	size := flag.Int("size", 32, "payload bytes, newline included")
	wait := flag.Duration("wait", 2*time.Second, "how long to keep reading after the last send")
	flag.Parse()

	_ = config.LoadDotEnv()

	target := *addr
	if *etcd != "" {
		var err error
		if target, err = discover(strings.Split(*etcd, ",")); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	raddr, err := net.ResolveUDPAddr("udp", config.NormalizeHostPort(target, config.DefaultPort))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var sent, recv atomic.Int64
	wg := sync.WaitGroup{}
	start := time.Now()

	for c := 0; c < *clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.ListenUDP("udp", nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "client", c, err)
				return
			}
			defer conn.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				buf := make([]byte, 2048)
				for {
					if _, _, err := conn.ReadFromUDP(buf); err != nil {
						return
					}
					recv.Add(1)
				}
			}()

			payload := bytes.Repeat([]byte{byte('a' + rand.Intn(26))}, max(*size-1, 1))
			payload = append(payload, '\n')
			for i := 0; i < *n; i++ {
				if _, err := conn.WriteToUDP(payload, raddr); err == nil {
					sent.Add(1)
				}
			}
			_ = conn.SetReadDeadline(time.Now().Add(*wait))
			<-done
		}(c)
	}
	wg.Wait()
	dur := time.Since(start) - *wait
	if dur <= 0 {
		dur = time.Millisecond
	}
	fmt.Printf("Sent %d datagrams to %s, received %d relayed copies in %s (%.2f sends/s)\n",
		sent.Load(), raddr, recv.Load(), dur, float64(sent.Load())/dur.Seconds())
}

// discover returns the address of any relay registered in etcd.
func discover(endpoints []string) (string, error) {
	log, err := telemetry.NewLogger("warn")
	if err != nil {
		return "", err
	}
	cli, err := registry.NewClient(endpoints, log)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	relays, err := registry.List(ctx, cli)
	if err != nil {
		return "", err
	}
	for id, a := range relays {
		fmt.Printf("using relay %s at %s\n", id, a)
		return a, nil
	}
	return "", fmt.Errorf("no relays registered under %s", registry.Prefix)
}
