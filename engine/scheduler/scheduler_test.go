package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFillsZeroValuesFromDefaults(t *testing.T) {
	s := New(nil, Config{})
	assert.Equal(t, DefaultConfig().BatchSize, s.cfg.BatchSize)
	assert.Equal(t, DefaultConfig().MaxConcurrent, s.cfg.MaxConcurrent)
	assert.Equal(t, DefaultConfig().CrawlInterval, s.cfg.CrawlInterval)
}

func TestNewKeepsExplicitNonZeroValues(t *testing.T) {
	s := New(nil, Config{BatchSize: 5, MaxConcurrent: 2, CrawlInterval: time.Second})
	assert.Equal(t, 5, s.cfg.BatchSize)
	assert.Equal(t, 2, s.cfg.MaxConcurrent)
	assert.Equal(t, time.Second, s.cfg.CrawlInterval)
}
