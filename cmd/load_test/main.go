package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/session"
	"github.com/abcfe/abcfe-wallet/transport"
)

var (
	endpoint     string
	channelCount int
	callCount    int
	password     string
	verbose      bool
)

type Stats struct {
	TotalCalls   int64
	SuccessCalls int64
	FailedCalls  int64
	MaxLatencyUs int64
	SumLatencyUs int64
	StartTime    time.Time
	EndTime      time.Time
}

func (s *Stats) record(d time.Duration, err error) {
	us := d.Microseconds()
	atomic.AddInt64(&s.TotalCalls, 1)
	atomic.AddInt64(&s.SumLatencyUs, us)
	if err != nil {
		atomic.AddInt64(&s.FailedCalls, 1)
	} else {
		atomic.AddInt64(&s.SuccessCalls, 1)
	}
	for {
		cur := atomic.LoadInt64(&s.MaxLatencyUs)
		if us <= cur || atomic.CompareAndSwapInt64(&s.MaxLatencyUs, cur, us) {
			return
		}
	}
}

func main() {
	// Parse flags
	flag.StringVar(&endpoint, "url", "ws://127.0.0.1:7760", "Background websocket endpoint")
	flag.IntVar(&channelCount, "channels", 10, "Number of concurrent UI channels")
	flag.IntVar(&callCount, "calls", 100, "Requests per channel")
	flag.StringVar(&password, "password", os.Getenv("ABCFE_WALLET_PASSWORD"), "Vault password, enables signData load")
	flag.BoolVar(&verbose, "verbose", false, "Verbose output")
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║       ABCFe Wallet Channel Load Test         ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Endpoint:  %s\n", endpoint)
	fmt.Printf("  Channels:  %d\n", channelCount)
	fmt.Printf("  Calls:     %d per channel\n", callCount)
	fmt.Printf("  Signing:   %v\n\n", password != "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: open channels
	fmt.Printf("[1/3] Opening %d channels...\n", channelCount)
	facades := make([]*session.Facade, 0, channelCount)
	for i := 0; i < channelCount; i++ {
		opts := session.DefaultOptions()
		f := session.New(transport.DialWS(endpoint), opts)
		f.Start(ctx)

		wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
		err := f.WaitConnected(wctx)
		wcancel()
		if err != nil {
			panic(fmt.Sprintf("Channel %d could not connect: %v", i, err))
		}
		facades = append(facades, f)
	}
	defer func() {
		for _, f := range facades {
			f.Close()
		}
	}()
	fmt.Printf("  ✓ %d channels connected\n", len(facades))

	// Step 2: pick a signing account
	fmt.Println("\n[2/3] Preparing signing account...")
	var signer string
	if password != "" {
		if err := facades[0].Unlock(ctx, password); err != nil {
			panic(fmt.Sprintf("Failed to unlock: %v", err))
		}
		ents, err := facades[0].GetStoredEntities(ctx, keyring.EntityAccounts)
		if err != nil || len(ents.Accounts) == 0 {
			panic(fmt.Sprintf("No account to sign with: %v", err))
		}
		signer = ents.Accounts[0].ID
		fmt.Printf("  ✓ Signing with %s\n", signer)
	} else {
		fmt.Println("  - No password, status calls only")
	}

	// Step 3: fire requests
	fmt.Printf("\n[3/3] Sending %d requests...\n", channelCount*callCount)
	stats := &Stats{StartTime: time.Now()}
	var wg sync.WaitGroup
	for i, f := range facades {
		wg.Add(1)
		go func(id int, f *session.Facade) {
			defer wg.Done()
			for n := 0; n < callCount; n++ {
				start := time.Now()
				var err error
				if signer != "" && n%2 == 1 {
					_, _, err = f.SignData(ctx, signer, []byte(fmt.Sprintf("load-%d-%d", id, n)))
				} else {
					_, err = f.Status(ctx)
				}
				stats.record(time.Since(start), err)
				if err != nil && verbose {
					fmt.Printf("  [Channel %d] ✗ call %d: %v\n", id, n, err)
				}
			}
		}(i, f)
	}
	wg.Wait()
	stats.EndTime = time.Now()

	printStats(stats)
}

func printStats(stats *Stats) {
	duration := stats.EndTime.Sub(stats.StartTime)
	var avg time.Duration
	if stats.TotalCalls > 0 {
		avg = time.Duration(stats.SumLatencyUs/stats.TotalCalls) * time.Microsecond
	}

	fmt.Println("\n╔══════════════════════════════════════════════╗")
	fmt.Println("║                  Results                     ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Printf("  Total:    %d\n", stats.TotalCalls)
	fmt.Printf("  Success:  %d\n", stats.SuccessCalls)
	fmt.Printf("  Failed:   %d\n", stats.FailedCalls)
	fmt.Printf("  Duration: %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("  RPS:      %.1f\n", float64(stats.TotalCalls)/duration.Seconds())
	}
	fmt.Printf("  Latency:  avg %s, max %s\n", avg, time.Duration(stats.MaxLatencyUs)*time.Microsecond)
}
