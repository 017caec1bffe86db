package main

import (
	"context"
	"fmt"

	"github.com/bichuga/go-bookhub/config"
	"github.com/bichuga/go-bookhub/domain"
	"github.com/bichuga/go-bookhub/infrastructure/logging"
	promclient "github.com/bichuga/go-bookhub/infrastructure/prometheus"
	"github.com/bichuga/go-bookhub/provider/kucoin"
	"github.com/bichuga/go-bookhub/signalr"
	"github.com/bichuga/go-bookhub/usecase"
)

func main() {
	conf := config.Load()
	logging.Init(conf.Debug)
	defer logging.Sync()

	go promclient.StartPromClientServer(conf.MetricsAddr)

	manager := signalr.NewConnectionManager(conf.ConnectionURL, conf.HubName, signalr.DefaultMethodNames)
	manager.SetReconnectBackoff(conf.ReconnectFloor, conf.ReconnectCap)
	manager.SetInvokeTimeout(conf.InvokeTimeout)
	manager.SetKeepAliveInterval(conf.KeepAliveInterval)
	defer manager.Close()

	streams := usecase.NewBookStreamUseCase(
		manager,
		domain.NewDispatchDirectory(),
		kucoin.NewKucoinSyncAPI(),
	)
	streams.SetDelayBetweenInvokes(conf.DelayBetweenInvokes)

	sub, err := streams.StreamOrderBook(context.Background(), "bittrex", "BTC-USDT", nil)
	if err != nil {
		fmt.Printf("Error subscribing to order book stream: %s\n", err)
		return
	}
	defer sub.Unsubscribe()

	for book := range sub.Stream {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		fmt.Printf("%s seq=%d bid=%s ask=%s\n",
			book.Symbol, book.SequenceID, bid.Price.String(), ask.Price.String())
	}
}
