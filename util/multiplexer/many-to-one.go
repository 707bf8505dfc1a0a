// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("multiplexer has been closed")

// A many to one multiplexer
// Yes, channels technically already are that, but there are a bunch of problems with using raw channels as multiplexer:
// If any of the senders tries to send to a closed channel, it explodes
// Thus, wrap it inside a struct that handles that case of a closed channel.
// Sends and Close are serialised, so closing while others send is safe
type ManyToOne[T any] struct {
	outbound chan T
	closed   bool
	lock     *sync.Mutex
}

// NewManyToOne creates a new ManyToOne multiplexer
// The given channel will be where all messages will be sent to
func NewManyToOne[T any](receiver chan T) ManyToOne[T] {
	return ManyToOne[T]{
		outbound: receiver,
		closed:   false,
		lock:     &sync.Mutex{},
	}
}

// Send a message to this many to one plexer
// If closed, the message won't get sent and ErrClosed is returned.
// Blocks while the receiver's buffer is full
func (m *ManyToOne[T]) Send(msg T) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.outbound <- msg
	return nil
}

// Closes the channel and marks the plexer as closed
// Closing twice does nothing
func (m *ManyToOne[T]) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	close(m.outbound)
	m.closed = true
}

func (m *ManyToOne[T]) Closed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}
