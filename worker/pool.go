// Package worker provides the shared goroutine pool used for broadcast
// fan-out, asynchronous requests, and parallel session shutdown.
package worker

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// DefaultPoolSize is used when Submit is called before Init.
const DefaultPoolSize = 64

// Job is one unit of asynchronous work.
type Job func()

var (
	pool     *ants.Pool
	initOnce sync.Once
)

// Init sizes the global pool. Safe to call multiple times; only the first
// call takes effect.
func Init(size int) error {
	var err error
	initOnce.Do(func() {
		pool, err = ants.NewPool(size)
	})
	return err
}

// Submit enqueues a job for asynchronous execution. Panics inside a job are
// recovered and logged so one broken task cannot take down the pool.
func Submit(j Job) error {
	if pool == nil {
		if err := Init(DefaultPoolSize); err != nil {
			return err
		}
	}
	return pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker panic recovered")
			}
		}()
		j()
	})
}

// Cap returns the pool capacity.
func Cap() int {
	if pool == nil {
		return 0
	}
	return pool.Cap()
}

// Running returns the number of currently running jobs.
func Running() int {
	if pool == nil {
		return 0
	}
	return pool.Running()
}

// Free returns the number of idle workers.
func Free() int {
	if pool == nil {
		return 0
	}
	return pool.Free()
}
