// Command profile runs the same synthetic load as cmd/benchmark while
// capturing a CPU profile, for `go tool pprof` inspection of the matching
// hot path.
package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/matching"
)

type unlimitedReservations struct{}

func (unlimitedReservations) Reserve(*domain.Order, domain.Price) (domain.RejectReason, bool) {
	return domain.RejectNone, true
}
func (unlimitedReservations) Release(domain.OrderID, domain.Symbol, domain.ReleaseReason) {}
func (unlimitedReservations) ApplyTrade(trade *domain.Trade)                              { trade.Release() }

func main() {
	cpuFile, err := os.Create("cpu.prof")
	if err != nil {
		panic(err)
	}
	defer cpuFile.Close()

	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		panic(err)
	}
	defer pprof.StopCPUProfile()

	fmt.Println("=== matching engine CPU profile ===")
	fmt.Println("writing cpu.prof")

	ids := matching.NewIDGenerator("P")
	engine := matching.NewEngine(matching.Options{
		Symbol:       "BTCUSD",
		Reservations: unlimitedReservations{},
		IDs:          ids,
		Logger:       zap.NewNop(),
	})
	engine.Start()
	defer engine.Stop()

	duration := 10 * time.Second
	numCPU := runtime.NumCPU()
	numWorkers := numCPU - 2
	if numWorkers < 1 {
		numWorkers = 1
	}

	var orderCount, tradeCount atomic.Int64

	go func() {
		trades := engine.Trades()
		for {
			_, ok := trades.TryPop()
			if ok {
				tradeCount.Add(1)
			} else {
				runtime.Gosched()
			}
		}
	}()

	fmt.Printf("cpus: %d, producers: %d, duration: %v\n\n", numCPU, numWorkers, duration)

	startTime := time.Now()
	stopCh := make(chan struct{})

	for w := 0; w < numWorkers; w++ {
		go func(workerID int) {
			orderID := 0
			for {
				select {
				case <-stopCh:
					return
				default:
				}

				var side domain.Side
				price := domain.Price(5_000_000 + int64(orderID%200))
				if orderID%2 == 0 {
					side = domain.SideBuy
				} else {
					side = domain.SideSell
				}

				order := domain.NewOrder(
					domain.OrderID(fmt.Sprintf("w%d-%d", workerID, orderID)),
					domain.UserID(fmt.Sprintf("user-%d", workerID)),
					"BTCUSD",
					side,
					domain.KindLimit,
					price,
					1,
					domain.NowMs(),
				)
				if !engine.SubmitOrder(order) {
					order.Release()
				}
				orderCount.Add(1)
				orderID++
			}
		}(w)
	}

	time.Sleep(duration)
	close(stopCh)
	time.Sleep(200 * time.Millisecond)

	elapsed := time.Since(startTime)
	totalOrders := orderCount.Load()
	totalTrades := tradeCount.Load()

	fmt.Println("\n=== results ===")
	fmt.Printf("total orders: %d\n", totalOrders)
	fmt.Printf("total trades: %d\n", totalTrades)
	fmt.Printf("order qps:    %.0f orders/sec\n", float64(totalOrders)/elapsed.Seconds())
	fmt.Printf("trade tps:    %.0f trades/sec\n", float64(totalTrades)/elapsed.Seconds())

	fmt.Println("\nanalyze with: go tool pprof -http=:8080 cpu.prof")
}
