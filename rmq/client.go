package rmq

import (
	"fmt"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"text2phenotype.com/seqtag/logger"
)

type Config struct {
	Host                    string `envconfig:"SEQTAG_RMQ_HOST" required:"true"`
	Port                    string `envconfig:"SEQTAG_RMQ_PORT" default:"5672"`
	Username                string `envconfig:"SEQTAG_RMQ_USERNAME" required:"true"`
	Password                string `envconfig:"SEQTAG_RMQ_PASSWORD" required:"true"`
	Exchange                string `envconfig:"SEQTAG_RMQ_EXCHANGE" default:""`
	MaxParallelRequestCount int    `envconfig:"SEQTAG_RMQ_MAX_PARALLEL_REQUESTS" default:"5"`
	TaskQueue               string `envconfig:"SEQTAG_RMQ_TASK_QUEUE" default:"seqtag-tasks"`
	ResultQueue             string `envconfig:"SEQTAG_RMQ_RESULT_QUEUE" default:"seqtag-results"`
}

type Client struct {
	Deliveries     <-chan amqp.Delivery
	ReqChanErrors  <-chan *amqp.Error
	RespChanErrors <-chan *amqp.Error
	config         Config
	reqConn        *amqp.Connection
	respConn       *amqp.Connection
	respChannel    *amqp.Channel
	rmqLogger      *zerolog.Logger
}

func NewClient() (*Client, error) {
	rmqLogger := logger.NewLogger("RMQ client")
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		rmqLogger.Error().Err(err).Msg("Could not read env config")
		return nil, err
	}

	url := getURL(config)
	respConn, respChannel, err := setup(url)
	if err != nil {
		return nil, fmt.Errorf("failed connection: %w", err)
	}
	reqConn, reqChannel, err := setup(url)
	if err != nil {
		_ = respConn.Close()
		return nil, fmt.Errorf("failed connection: %w", err)
	}
	closeAll := func() {
		_ = reqConn.Close()
		_ = respConn.Close()
	}

	for _, name := range []string{config.TaskQueue, config.ResultQueue} {
		if err := declareQueue(reqChannel, config.Exchange, name); err != nil {
			closeAll()
			return nil, err
		}
	}
	if err := reqChannel.Qos(config.MaxParallelRequestCount, 0, false); err != nil {
		closeAll()
		return nil, fmt.Errorf("qos: %w", err)
	}

	deliveries, err := reqChannel.Consume(
		config.TaskQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("consume deliveries: %w", err)
	}
	reqChanErrors := reqChannel.NotifyClose(make(chan *amqp.Error))
	respChanErrors := respChannel.NotifyClose(make(chan *amqp.Error))
	rmqLogger.Info().
		Str("task_queue", config.TaskQueue).
		Str("result_queue", config.ResultQueue).
		Msg("Connected to RMQ")

	return &Client{
		Deliveries:     deliveries,
		ReqChanErrors:  reqChanErrors,
		RespChanErrors: respChanErrors,
		config:         config,
		reqConn:        reqConn,
		respConn:       respConn,
		respChannel:    respChannel,
		rmqLogger:      &rmqLogger,
	}, nil
}

// declareQueue declares a durable queue and binds it to a named exchange. The default
// exchange routes by queue name and needs no binding.
func declareQueue(ch *amqp.Channel, exchange, name string) error {
	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	if exchange == "" {
		return nil
	}
	if err := ch.QueueBind(name, name, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", name, err)
	}
	return nil
}

func (c *Client) ResultQueue() string {
	return c.config.ResultQueue
}

// Publish sends msg to routingKey on the configured exchange.
func (c *Client) Publish(routingKey string, msg amqp.Publishing) error {
	return c.respChannel.Publish(
		c.config.Exchange,
		routingKey,
		false,
		false,
		msg)
}

func (c *Client) Close() {
	_ = c.reqConn.Close()
	_ = c.respConn.Close()
}

func getURL(config Config) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s", config.Username, config.Password, config.Host, config.Port)
}

func setup(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
