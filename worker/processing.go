package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"text2phenotype.com/seqtag/pipeline"
	"text2phenotype.com/seqtag/types"
	"text2phenotype.com/seqtag/utils"
)

type Task struct {
	delivery   *amqp.Delivery
	message    *Message
	taskLogger *zerolog.Logger
}

func (worker *Worker) processMessage(delivery *amqp.Delivery) {
	rejectLogger := worker.workerLogger.With().Str("message_id", delivery.MessageId).Logger()
	task, err := worker.createTask(delivery)
	if err != nil {
		worker.workerLogger.Err(err).
			Str("message_id", delivery.MessageId).
			Str("body", string(delivery.Body)).
			Msg("Failed to create task for delivery")
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	reply, err := worker.processTask(task)
	if err != nil {
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	if err = worker.rmq.sendReply(task, reply); err != nil {
		task.taskLogger.Err(err).Msg("Got error while publishing reply")
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	if err = worker.rmq.acknowledgeDelivery(delivery); err != nil {
		task.taskLogger.Err(err).Msg("Failed to acknowledge delivery")
	}
	task.taskLogger.Info().Msg("Finished processing RMQ message")
}

func (worker *Worker) createTask(delivery *amqp.Delivery) (*Task, error) {
	var message Message
	if err := json.Unmarshal(delivery.Body, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message, got error %w", err)
	}
	if err := message.validate(); err != nil {
		return nil, err
	}
	taskLogger := worker.workerLogger.With().
		Str("tid", message.Tid).
		Str("model", message.Model).Logger()
	return &Task{
		delivery:   delivery,
		message:    &message,
		taskLogger: &taskLogger,
	}, nil
}

// processTask returns the reply to publish. An error means the delivery should be
// rejected; pipeline failures are reported inside the reply instead.
func (worker *Worker) processTask(task *Task) ([]byte, error) {
	if task.delivery.Redelivered {
		reply, found, err := worker.redis.getReply(task.message.Tid)
		if err != nil {
			task.taskLogger.Err(err).Msg("Failed to look up a stored reply, processing again")
		} else if found {
			task.taskLogger.Info().Msg("Task was already processed, resending stored reply")
			return reply, nil
		}
	}

	text := task.message.Text
	if task.message.Location != "" {
		data, err := worker.s3.getText(task.message.Location)
		if err != nil {
			task.taskLogger.Err(err).Str("location", task.message.Location).Msg("Could not fetch text")
			return nil, fmt.Errorf("failed to fetch text: %w", err)
		}
		text = string(data)
	}

	reply := worker.runPipeline(task, text)
	b, err := json.Marshal(reply)
	if err != nil {
		task.taskLogger.Err(err).Msg("Failed to encode reply")
		return nil, err
	}
	if err = worker.redis.saveReply(task.message.Tid, b); err != nil {
		task.taskLogger.Err(err).Msg("Failed to store reply")
	}
	return b, nil
}

func (worker *Worker) runPipeline(task *Task, text string) Reply {
	reply := Reply{Tid: task.message.Tid, Model: task.message.Model}
	result, err := worker.process(pipeline.Request{
		Tid:   task.message.Tid,
		Text:  text,
		Model: task.message.Model,
	})
	switch {
	case errors.Is(err, pipeline.ErrUnavailable):
		task.taskLogger.Err(err).Msg("Model is unavailable")
		reply.Unavailable = task.message.Model
	case err != nil:
		task.taskLogger.Err(err).Msg("Got error while running pipeline")
		reply.Error = err.Error()
	default:
		reply.Result = &result
	}
	return reply
}

func (worker *Worker) process(request pipeline.Request) (result types.Result, err error) {
	defer utils.RecoverWithError(&err)
	ctx, cancel := context.WithTimeout(context.Background(), worker.config.TaskTimeout)
	defer cancel()
	return worker.ppln.Process(ctx, request)
}
