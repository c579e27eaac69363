package service

import (
	"context"
	"time"

	"github.com/ilphub/ilphub.go/ledger"
	"github.com/ilphub/ilphub.go/rabbitmq"
	"github.com/ziflex/lecho/v3"
)

// ConnectorService holds accounts on two ledgers and forwards
// conditional transfers between them: prepares arriving on the upstream
// ledger are re-prepared downstream after conversion and expiry
// shrinking, and downstream fulfillments are relayed back upstream. The
// connector never touches a shared secret; conditions and packets pass
// through verbatim.
type ConnectorService struct {
	Config         *Config
	Logger         *lecho.Logger
	Upstream       ledger.Ledger
	Downstream     ledger.Ledger
	Tracker        *Tracker
	Quoter         *Quoter
	TransferPubSub *Pubsub
	RabbitMQClient rabbitmq.Client
}

func NewConnectorService(c *Config, logger *lecho.Logger, upstream, downstream ledger.Ledger) *ConnectorService {
	return &ConnectorService{
		Config:     c,
		Logger:     logger,
		Upstream:   upstream,
		Downstream: downstream,
		Tracker:    NewTracker(),
		Quoter: &Quoter{
			Rate:               c.ExchangeRate,
			SourceHoldDuration: c.SourceHoldDuration,
			Capacity:           c.LiquidityCapacity,
			AppliesToPrefix:    c.DownstreamLedgerPrefix,
			QuoteExpiry:        time.Duration(c.QuoteExpiry) * time.Second,
		},
		TransferPubSub: NewPubsub(),
	}
}

func (svc *ConnectorService) MinMessageWindow() time.Duration {
	return time.Duration(svc.Config.MinMessageWindow) * time.Millisecond
}

// Start connects both ledgers, registers the event handlers and begins
// the tracker eviction loop. Handlers stay registered until the ledger
// connections go away with ctx.
func (svc *ConnectorService) Start(ctx context.Context) error {
	if err := svc.Upstream.Connect(ctx); err != nil {
		return err
	}
	if err := svc.Downstream.Connect(ctx); err != nil {
		return err
	}
	svc.Upstream.OnIncomingPrepare(func(transfer ledger.Transfer) {
		svc.HandleIncomingPrepare(ctx, transfer)
	})
	svc.Downstream.OnOutgoingFulfill(func(transferID string, fulfillment []byte) {
		svc.HandleOutgoingFulfill(ctx, transferID, fulfillment)
	})
	svc.Upstream.RegisterRequestHandler(svc.HandleQuoteRequest)
	svc.Tracker.StartEvictionLoop(ctx,
		time.Duration(svc.Config.SweepInterval)*time.Second,
		time.Duration(svc.Config.TrackerGracePeriod)*time.Second)
	svc.Logger.Infof("Connector forwarding %s -> %s at rate %v",
		svc.Upstream.Info().Prefix, svc.Downstream.Info().Prefix, svc.Config.ExchangeRate)
	return nil
}
