// Command benchmark drives one symbol's matching engine with overlapping
// buy/sell limit orders from several producer goroutines and reports
// throughput and latency. It bypasses the account layer entirely (an
// unlimited ReservationPort that never rejects), the same way the teacher's
// benchmark measured the matching engine in isolation rather than the full
// admission pipeline.
package main

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"equityexchange/domain"
	"equityexchange/matching"
)

// unlimitedReservations approves every reservation and settles trades
// without tracking balances, so the benchmark measures matching throughput
// rather than account-ledger contention.
type unlimitedReservations struct{}

func (unlimitedReservations) Reserve(*domain.Order, domain.Price) (domain.RejectReason, bool) {
	return domain.RejectNone, true
}
func (unlimitedReservations) Release(domain.OrderID, domain.Symbol, domain.ReleaseReason) {}
func (unlimitedReservations) ApplyTrade(trade *domain.Trade)                              { trade.Release() }

func main() {
	fmt.Println("=== matching engine throughput benchmark ===")

	ids := matching.NewIDGenerator("B")
	engine := matching.NewEngine(matching.Options{
		Symbol:       "BTCUSD",
		Reservations: unlimitedReservations{},
		IDs:          ids,
		Logger:       zap.NewNop(),
	})
	engine.Start()
	defer engine.Stop()

	testDuration := 5 * time.Second
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

	fmt.Printf("cpus: %d, producers: %d, duration: %v\n\n", numCPU, numWorkers, testDuration)

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

	ticker := time.NewTicker(time.Second)
	go func() {
		for range ticker.C {
			elapsed := time.Since(startTime)
			orders := orderCount.Load()
			trades := tradeCount.Load()
			fmt.Printf("[%.0fs] orders: %d (%.0f/s) | trades: %d (%.0f/s)\n",
				elapsed.Seconds(), orders, float64(orders)/elapsed.Seconds(),
				trades, float64(trades)/elapsed.Seconds())
		}
	}()

	time.Sleep(testDuration)
	close(stopCh)
	ticker.Stop()
	time.Sleep(200 * time.Millisecond)

	elapsed := time.Since(startTime)
	totalOrders := orderCount.Load()
	totalTrades := tradeCount.Load()

	fmt.Println("\n=== results ===")
	fmt.Printf("duration:        %v\n", elapsed)
	fmt.Printf("total orders:    %d\n", totalOrders)
	fmt.Printf("total trades:    %d\n", totalTrades)
	fmt.Printf("order throughput: %.0f orders/sec\n", float64(totalOrders)/elapsed.Seconds())
	fmt.Printf("trade throughput: %.0f trades/sec\n", float64(totalTrades)/elapsed.Seconds())
	if totalOrders > 0 {
		fmt.Printf("match rate:       %.2f%%\n", float64(totalTrades)*2/float64(totalOrders)*100)
	}

	bids, asks := engine.Depth(5)
	fmt.Println("\nbid depth (top 5):")
	for i, level := range bids {
		fmt.Printf("  %d. price=%d qty=%d orders=%d\n", i+1, level.Price, level.Quantity, level.Orders)
	}
	fmt.Println("\nask depth (top 5):")
	for i, level := range asks {
		fmt.Printf("  %d. price=%d qty=%d orders=%d\n", i+1, level.Price, level.Quantity, level.Orders)
	}
}
