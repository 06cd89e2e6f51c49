// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrWriteFailed is returned when a reply could not be written completely.
var ErrWriteFailed = errors.New("failed to write reply")

// Request carries one received line to the control loop and its reply
// back to the transport.
type Request struct {
	Line  string
	Reply chan string
}

// Queue hands lines from any number of transports to the control loop.
type Queue struct {
	ch chan Request
}

// NewQueue builds a queue holding up to size pending lines.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Request, size)}
}

// Submit queues a line and waits for its reply.
func (q *Queue) Submit(ctx context.Context, line string) (string, error) {
	req := Request{Line: line, Reply: make(chan string, 1)}
	select {
	case q.ch <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-req.Reply:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drain runs every queued line through d without blocking. It is called
// once per tick by the control loop.
func (q *Queue) Drain(d *Dispatcher) int {
	n := 0
	for {
		select {
		case req := <-q.ch:
			req.Reply <- d.Handle(req.Line)
			n++
		default:
			return n
		}
	}
}

// Serve reads lines from rw, submits them to q and writes the replies back,
// one per line, until ctx is cancelled or rw fails.
func Serve(ctx context.Context, rw io.ReadWriter, q *Queue) error {
	scan := bufio.NewScanner(rw)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan runs in its own goroutine so cancellation is not
	// held up by a silent port
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	var writeMu sync.Mutex
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return io.EOF
				}
			}
			reply, err := q.Submit(ctx, line)
			if err != nil {
				return err
			}
			if reply == "" {
				continue
			}
			writeMu.Lock()
			msg := reply + "\n"
			n, err := io.WriteString(rw, msg)
			writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("command: write: %w", err)
			}
			if n != len(msg) {
				return ErrWriteFailed
			}
		}
	}
}
