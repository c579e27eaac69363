package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ilphub/ilphub.go/controllers"
	"github.com/ilphub/ilphub.go/db"
	"github.com/ilphub/ilphub.go/ledger"
	"github.com/ilphub/ilphub.go/lib"
	"github.com/ilphub/ilphub.go/lib/service"
	"github.com/ilphub/ilphub.go/lib/transport"
	"github.com/ilphub/ilphub.go/rabbitmq"
)

// The demo topology from the Interledger tutorials, in one process:
// a customer and a connector share the upstream trustline ledger, the
// connector and the letter shop share the downstream one. The shop
// charges per letter over HTTP with 402 + Pay headers.
func main() {

	c := &service.Config{}

	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configured log file
	logger := lib.Logger(c.LogFilePath)

	// Setup exception tracking with Sentry if configured
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	backgroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The ledger store is in-memory unless a DATABASE_URI is configured
	var upstreamStore, downstreamStore ledger.Store
	if c.DatabaseUri != "" {
		dbConn, err := db.Open(c)
		if err != nil {
			logger.Fatalf("Error initializing db connection: %v", err)
		}
		defer dbConn.Close()
		pgStore, err := ledger.NewPgStore(backgroundCtx, dbConn)
		if err != nil {
			logger.Fatalf("Error initializing ledger store: %v", err)
		}
		upstreamStore, downstreamStore = pgStore, pgStore
	} else {
		upstreamStore = ledger.NewMemoryStore()
		downstreamStore = ledger.NewMemoryStore()
	}

	upstream := ledger.NewHosted(ledger.Info{
		Prefix:        c.UpstreamLedgerPrefix,
		CurrencyCode:  c.UpstreamCurrencyCode,
		CurrencyScale: c.UpstreamCurrencyScale,
		Connectors:    []string{c.UpstreamLedgerPrefix + "connector"},
	}, upstreamStore, logger)
	downstream := ledger.NewHosted(ledger.Info{
		Prefix:        c.DownstreamLedgerPrefix,
		CurrencyCode:  c.DownstreamCurrencyCode,
		CurrencyScale: c.DownstreamCurrencyScale,
		Connectors:    []string{},
	}, downstreamStore, logger)
	upstream.StartExpiryLoop(backgroundCtx, time.Duration(c.SweepInterval)*time.Second)
	downstream.StartExpiryLoop(backgroundCtx, time.Duration(c.SweepInterval)*time.Second)

	customerPeer := upstream.Peer("customer")
	connectorUpstreamPeer := upstream.Peer("connector")
	connectorDownstreamPeer := downstream.Peer("connector")
	shopPeer := downstream.Peer("shop")

	connectorSvc := service.NewConnectorService(c, logger, connectorUpstreamPeer, connectorDownstreamPeer)
	if err := connectorSvc.Start(backgroundCtx); err != nil {
		logger.Fatalf("Error starting connector: %v", err)
	}

	shopSvc := service.NewShopService(c, logger, shopPeer)
	if err := shopSvc.Start(backgroundCtx); err != nil {
		logger.Fatalf("Error starting shop: %v", err)
	}

	if err := customerPeer.Connect(backgroundCtx); err != nil {
		logger.Fatalf("Error connecting customer: %v", err)
	}
	payer := service.NewPayer(customerPeer)

	var backgroundWg sync.WaitGroup

	// Publish relayed fulfillments to rabbitmq if configured
	if c.RabbitMQUri != "" {
		rabbitmqClient, err := rabbitmq.Dial(c.RabbitMQUri,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithTransferExchange(c.RabbitMQTransferExchange),
		)
		if err != nil {
			logger.Fatalf("Error connecting to rabbitmq: %v", err)
		}
		defer rabbitmqClient.Close()

		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			err := rabbitmqClient.StartPublishTransfers(backgroundCtx, func(ctx context.Context) (chan ledger.Transfer, func(), error) {
				ch := make(chan ledger.Transfer)
				subID := connectorSvc.TransferPubSub.Subscribe(service.TopicFulfilled, ch)
				return ch, func() { connectorSvc.TransferPubSub.Unsubscribe(subID, service.TopicFulfilled) }, nil
			}, rabbitmq.EncodeTransferJSON)
			if err != nil && err != context.Canceled {
				logger.Error(err)
				sentry.CaptureException(err)
			}
			logger.Info("Rabbit transfer publisher done")
		}()
	}

	// init echo server
	e := transport.InitEcho(c, logger)
	logMw := transport.CreateLoggingMiddleware(logger)
	strictRateLimitMw := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	shopCtrl := controllers.NewShopController(shopSvc)
	payCtrl := controllers.NewPayController(payer, connectorUpstreamPeer.Account())

	e.GET("/health", controllers.NewHealthController().Check)
	e.GET("/", shopCtrl.Home, logMw)
	e.GET("/stream", shopCtrl.Stream, logMw)
	e.GET("/:fulfillment", shopCtrl.Collect, logMw)
	e.POST("/demo/pay", payCtrl.Pay, strictRateLimitMw, logMw)

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backgroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	backgroundWg.Wait()
	logger.Info("ilphub exiting gracefully. Goodbye.")
}
