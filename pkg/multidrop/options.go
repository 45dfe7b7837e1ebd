// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"log"
	"time"
)

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithResponseTimeout sets the inactivity window used while waiting
// for node responses. Every received byte restarts it.
func WithResponseTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.respTimeout = d
		}
	}
}

// WithSettleDelay sets the pause between the broadcast reset and the
// first addressing pass.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.settle = d
		}
	}
}

// WithLogger routes the engine's diagnostics (dropped bytes, protocol
// warnings) to a specific logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}
