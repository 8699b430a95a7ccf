package transport

import (
	"time"
)

// DefaultPollTimeout bounds each ReceiveFrames call.
const DefaultPollTimeout = 100 * time.Millisecond

type options struct {
	pollTimeout time.Duration // negative blocks forever
	linger      time.Duration
	bind        *bool
	sendHWM     int
	recvHWM     int
}

func defaultOptions() options {
	return options{
		pollTimeout: DefaultPollTimeout,
		linger:      0,
	}
}

// Option configures a Socket.
type Option func(*options)

// WithPollTimeout sets how long ReceiveFrames waits before ErrNoMessage.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// WithBlockingReceive makes ReceiveFrames wait without a timeout.
func WithBlockingReceive() Option {
	return func(o *options) { o.pollTimeout = -1 }
}

// WithLinger sets how long Close waits to flush pending outbound frames.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.linger = d }
}

// WithBind forces bind (true) or connect (false) regardless of the role.
func WithBind(bind bool) Option {
	return func(o *options) { o.bind = &bind }
}

// WithHighWaterMark caps queued messages per direction; 0 keeps the zmq default.
func WithHighWaterMark(send, recv int) Option {
	return func(o *options) {
		o.sendHWM = send
		o.recvHWM = recv
	}
}
