package memory

import (
	"context"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/kit/mq"
	"github.com/btorressz/micro-batch-amm/kit/util"
)

type observer struct {
	key          string
	notify       mq.Notify
	errorHandler func(error)
}

func (o *observer) GetKey() string {
	return o.key
}

func (o *observer) Notify(message []byte) error {
	return o.notify(message)
}

func (o *observer) ErrorHandler(err error) {
	if o.errorHandler != nil {
		o.errorHandler(err)
	}
}

type memoryMQ struct {
	observers util.GenericSyncMap[mq.Observer, mq.Observer]
	messageCh chan []byte
	doneCh    chan struct{}
	cancel    context.CancelFunc
	err       error
}

var _ mq.MQTopic = (*memoryMQ)(nil)

// CreateMemoryMQ is an in-process topic with the same contract as the broker
// backed topics: observers receive every produced message in order.
func CreateMemoryMQ(ctx context.Context, messageChannelBuffer int) mq.MQTopic {
	ctx, cancel := context.WithCancel(ctx)

	m := &memoryMQ{
		messageCh: make(chan []byte, messageChannelBuffer),
		doneCh:    make(chan struct{}),
		cancel:    cancel,
	}

	go func() {
		defer close(m.doneCh)
		for {
			select {
			case message := <-m.messageCh:
				m.observers.Range(func(_, value mq.Observer) bool {
					if err := value.Notify(message); err != nil {
						value.ErrorHandler(err) // handle error then continue
					}
					return true
				})
			case <-ctx.Done():
				m.err = ctx.Err()
				return
			}
		}
	}()

	return m
}

func (m *memoryMQ) Subscribe(key string, notify mq.Notify, options ...mq.ObserverOption) mq.Observer {
	config := new(mq.ObserverOptionConfig)
	for _, option := range options {
		option(config)
	}
	o := &observer{
		key:          key,
		notify:       notify,
		errorHandler: config.ErrorHandler,
	}
	m.observers.Store(o, o)
	return o
}

func (m *memoryMQ) UnSubscribe(observer mq.Observer) {
	m.observers.Delete(observer)
}

func (m *memoryMQ) Produce(ctx context.Context, message mq.Message) error {
	marshal, err := message.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal message failed")
	}
	select {
	case m.messageCh <- marshal:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "produce message failed")
	}
}

func (m *memoryMQ) Done() <-chan struct{} {
	return m.doneCh
}

func (m *memoryMQ) Err() error {
	return m.err
}

func (m *memoryMQ) Shutdown() bool {
	m.cancel()
	<-m.doneCh
	return true
}
