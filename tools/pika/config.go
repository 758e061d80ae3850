package main

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Connection
	Hosts  string
	Topic  string
	Secret string

	// Publish options
	Messages   int
	Duration   time.Duration
	Threads    int
	BatchSize  int
	ValueBytes int
	Producers  int

	// Consume options
	Group  string
	Limit  int
	WaitMS int

	// Derived
	hostList []string
}

func (c *Config) Validate() error {
	if c.Hosts == "" {
		return fmt.Errorf("hosts cannot be empty")
	}

	c.hostList = strings.Split(c.Hosts, ",")
	for i, h := range c.hostList {
		c.hostList[i] = strings.TrimSpace(h)
		if c.hostList[i] == "" {
			return fmt.Errorf("empty host in list")
		}
	}

	if c.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.Messages < 0 {
		return fmt.Errorf("messages must be non-negative")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.ValueBytes < 0 {
		return fmt.Errorf("value-bytes must be non-negative")
	}
	if c.Limit < 1 || c.Limit > 1024 {
		return fmt.Errorf("limit must be between 1 and 1024")
	}
	return nil
}
