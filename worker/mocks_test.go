package worker

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"text2phenotype.com/seqtag/pipeline"
	"text2phenotype.com/seqtag/registry"
	"text2phenotype.com/seqtag/types"
)

type failingMethod struct {
	fail bool
}

type withValue struct {
	fail          bool
	returnedValue interface{}
}

type pipelineMock struct {
	config pipelineMockConfig
	calls  pipelineCall
}

type pipelineMockConfig struct {
	fail        bool
	unavailable bool
	panics      bool
}

type pipelineCall struct {
	pipeline bool
}

type redisMock struct {
	config redisMockConfig
	calls  redisMockCalls
	saved  []byte
}

type redisMockConfig struct {
	getReply  withValue
	saveReply failingMethod
}

type redisMockCalls struct {
	getReply  bool
	saveReply bool
}

type rmqMock struct {
	config rmqMockConfig
	calls  rmqMockCalls
	sent   []byte
}

type rmqMockConfig struct {
	sendReply           failingMethod
	acknowledgeDelivery failingMethod
}

type rmqMockCalls struct {
	sendReply           bool
	acknowledgeDelivery bool
	rejectDelivery      bool
}

type s3Mock struct {
	config s3MockConfig
	calls  s3MockCalls
}

type s3MockConfig struct {
	getText withValue
}

type s3MockCalls struct {
	getText bool
}

func (mock *s3Mock) close() {}

func (mock *rmqMock) close() {}

func (mock *redisMock) close() {}

func (mock *pipelineMock) Process(_ context.Context, request pipeline.Request) (types.Result, error) {
	mock.calls.pipeline = true
	switch {
	case mock.config.panics:
		panic("index out of range")
	case mock.config.unavailable:
		return types.Result{}, &registry.LoadError{Kind: registry.KindTagger, Name: request.Model, Err: errors.New("missing")}
	case mock.config.fail:
		return types.Result{}, errors.New("data integrity error")
	}
	result := types.EmptyResult(request.Model)
	if request.Text != "" {
		result.Tokens = []types.Token{request.Text}
	}
	return result, nil
}

func (mock *redisMock) getReply(tid string) ([]byte, bool, error) {
	mock.calls.getReply = true
	if mock.config.getReply.fail {
		return nil, false, errors.New("failed to get reply")
	}
	switch v := mock.config.getReply.returnedValue.(type) {
	case []byte:
		return v, true, nil
	default:
		return nil, false, nil
	}
}

func (mock *redisMock) saveReply(tid string, reply []byte) error {
	mock.calls.saveReply = true
	if mock.config.saveReply.fail {
		return errors.New("failed to save reply")
	}
	mock.saved = reply
	return nil
}

func (mock *rmqMock) rejectDelivery(delivery *amqp.Delivery, rejectLogger *zerolog.Logger) {
	mock.calls.rejectDelivery = true
}

func (mock *rmqMock) getDeliveriesCh() <-chan amqp.Delivery {
	return nil
}

func (mock *rmqMock) getReqChanErrorsCh() <-chan *amqp.Error {
	return nil
}

func (mock *rmqMock) getRespChanErrorsCh() <-chan *amqp.Error {
	return nil
}

func (mock *rmqMock) sendReply(task *Task, reply []byte) error {
	mock.calls.sendReply = true
	if mock.config.sendReply.fail {
		return errors.New("failed to send reply")
	}
	mock.sent = reply
	return nil
}

func (mock *rmqMock) acknowledgeDelivery(delivery *amqp.Delivery) error {
	mock.calls.acknowledgeDelivery = true
	if mock.config.acknowledgeDelivery.fail {
		return errors.New("failed to acknowledge delivery")
	}
	return nil
}

func (mock *s3Mock) getText(location string) ([]byte, error) {
	mock.calls.getText = true
	if mock.config.getText.fail {
		return nil, errors.New("mock: failed to load from s3")
	}
	switch v := mock.config.getText.returnedValue.(type) {
	case []byte:
		return v, nil
	default:
		return []byte("text from s3"), nil
	}
}
