package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"

	"github.com/ilphub/ilphub.go/ledger"
)

// bufPool reuses encode buffers between published messages. With a
// single publisher goroutine there is exactly one buffer in here; with
// more it scales with them.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const contentTypeJSON = "application/json"

type (
	SubscribeToTransfersFunc = func(ctx context.Context) (transfers chan ledger.Transfer, unsubscribe func(), err error)
	EncodeTransferFunc       = func(w io.Writer, transfer ledger.Transfer) error
)

type Client interface {
	// StartPublishTransfers consumes settled transfers from the
	// subscription and publishes them until ctx is done.
	StartPublishTransfers(context.Context, SubscribeToTransfersFunc, EncodeTransferFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	conn           *amqp.Connection
	publishChannel *amqp.Channel

	logger *lecho.Logger

	transferExchange string
}

type ClientOption = func(client *DefaultClient)

func WithTransferExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.transferExchange = exchange
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

// Dial connects to rabbitmq, retrying with exponential backoff so the
// broker may come up after us.
func Dial(uri string, options ...ClientOption) (Client, error) {
	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(uri)
		return dialErr
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		return nil, err
	}

	publishChannel, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	client := &DefaultClient{
		conn:           conn,
		publishChannel: publishChannel,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		transferExchange: "ilphub_transfer",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.conn.Close() }

// EncodeTransferJSON is the default payload encoder.
func EncodeTransferJSON(w io.Writer, transfer ledger.Transfer) error {
	return json.NewEncoder(w).Encode(transfer)
}

// TransferRoutingKey routes by event kind and ledger prefix so
// consumers can bind to a single ledger's settlements.
func TransferRoutingKey(transfer ledger.Transfer) string {
	return fmt.Sprintf("transfer.fulfilled.%s", transfer.Ledger)
}

func (client *DefaultClient) StartPublishTransfers(ctx context.Context, subscribeFunc SubscribeToTransfersFunc, payloadFunc EncodeTransferFunc) error {
	err := client.publishChannel.ExchangeDeclare(
		client.transferExchange,
		// topic exchanges route messages to queues based on a routing key
		"topic",
		// Durable and Non-Auto-Deleted exchanges survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Internal exchanges accept direct publishing
		false,
		// Nowait: wait for a server response to check whether the
		// exchange was created successfully
		false,
		nil,
	)
	if err != nil {
		return err
	}

	transfers, unsubscribe, err := subscribeFunc(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	client.logger.Info("Starting transfer publisher")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case transfer, ok := <-transfers:
			if !ok {
				return nil
			}
			err := client.publishTransfer(ctx, transfer, payloadFunc)
			if err != nil {
				client.logger.Errorf("Error publishing transfer transfer_id:%s %v", transfer.ID, err)
			}
		}
	}
}

func (client *DefaultClient) publishTransfer(ctx context.Context, transfer ledger.Transfer, payloadFunc EncodeTransferFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	if err := payloadFunc(payload, transfer); err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.publishChannel.PublishWithContext(publishCtx,
		client.transferExchange,
		TransferRoutingKey(transfer),
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
}
