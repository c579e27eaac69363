package service

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI"` // empty means in-memory ledger store
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	Host                    string  `envconfig:"HOST" default:"localhost:8000"`
	Port                    int     `envconfig:"PORT" default:"8000"`
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int     `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int     `envconfig:"BURST_RATE_LIMIT" default:"1"`

	// Exchange rate in destination units per source unit. The default
	// matches the classic demo: one source unit buys 200 destination
	// units.
	ExchangeRate float64 `envconfig:"EXCHANGE_RATE" default:"200"`
	// Safety margin subtracted from the incoming expiry when preparing
	// the outgoing transfer, so a late downstream fulfillment can still
	// be relayed before the upstream obligation expires.
	MinMessageWindow int64 `envconfig:"MIN_MESSAGE_WINDOW" default:"10000"` // milliseconds
	// Hold duration proposed in quote responses.
	SourceHoldDuration uint32 `envconfig:"SOURCE_HOLD_DURATION" default:"3000"` // milliseconds
	LiquidityCapacity  uint64 `envconfig:"LIQUIDITY_CAPACITY" default:"1000000"`
	QuoteExpiry        int64  `envconfig:"QUOTE_EXPIRY" default:"3600"` // seconds
	// Transfers below this amount are rejected with F04. 0 disables the
	// check.
	MinAmount int64 `envconfig:"MIN_AMOUNT" default:"0"`
	// How often the pending-payment tracker and the session store drop
	// expired entries.
	SweepInterval int64 `envconfig:"SWEEP_INTERVAL" default:"30"` // seconds
	// Grace period after a tracked outgoing transfer's expiry before
	// its correlation entry is evicted.
	TrackerGracePeriod int64 `envconfig:"TRACKER_GRACE_PERIOD" default:"60"` // seconds

	UpstreamLedgerPrefix    string `envconfig:"UPSTREAM_LEDGER_PREFIX" default:"example.letter-shop.mytrustline."`
	UpstreamCurrencyCode    string `envconfig:"UPSTREAM_CURRENCY_CODE" default:"XRP"`
	UpstreamCurrencyScale   int    `envconfig:"UPSTREAM_CURRENCY_SCALE" default:"9"`
	DownstreamLedgerPrefix  string `envconfig:"DOWNSTREAM_LEDGER_PREFIX" default:"example.letter-shop.usd-ledger."`
	DownstreamCurrencyCode  string `envconfig:"DOWNSTREAM_CURRENCY_CODE" default:"USD"`
	DownstreamCurrencyScale int    `envconfig:"DOWNSTREAM_CURRENCY_SCALE" default:"9"`

	// Shop settings.
	ShopPrice  int64 `envconfig:"SHOP_PRICE" default:"10"`
	SessionTTL int64 `envconfig:"SESSION_TTL" default:"600"` // seconds

	RabbitMQUri              string `envconfig:"RABBITMQ_URI"`
	RabbitMQTransferExchange string `envconfig:"RABBITMQ_TRANSFER_EXCHANGE" default:"ilphub_transfer"`
}
