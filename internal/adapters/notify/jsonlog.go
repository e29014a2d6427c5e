package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// JSONLogChannel appends alerts as JSON lines to a file or stdout, serving
// as the local audit trail alongside the remote channels.
//
// Writes go through a 64KB buffer flushed every second and on Close, with
// a file sync on each flush.
type JSONLogChannel struct {
	bufWriter *bufio.Writer
	file      *os.File
	encoder   *json.Encoder
	mu        sync.Mutex
	stopFlush chan struct{}
	closeOnce sync.Once
}

// JSONLogConfig configures the JSON log channel.
type JSONLogConfig struct {
	FilePath string // Output file (empty for discard)
	Stdout   bool   // Write to stdout instead of a file
	Pretty   bool   // Indent output
}

// NewJSONLogChannel creates the JSON log channel. Files are opened in
// append mode with 0600 permissions.
func NewJSONLogChannel(config JSONLogConfig) (*JSONLogChannel, error) {
	var writer io.Writer
	var file *os.File

	switch {
	case config.Stdout:
		writer = os.Stdout
	case config.FilePath != "":
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		writer = file
	default:
		writer = io.Discard
	}

	const bufferSize = 64 * 1024
	bufWriter := bufio.NewWriterSize(writer, bufferSize)

	c := &JSONLogChannel{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}
	if config.Pretty {
		c.encoder.SetIndent("", "  ")
	}

	go c.periodicFlush()
	return c, nil
}

func (c *JSONLogChannel) periodicFlush() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stopFlush:
			return
		}
	}
}

func (c *JSONLogChannel) Deliver(ctx context.Context, alert *domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(alert)
}

// Flush forces buffered data to disk.
func (c *JSONLogChannel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.bufWriter.Flush(); err != nil {
		return err
	}
	if c.file != nil {
		return c.file.Sync()
	}
	return nil
}

// Close stops the periodic flush and closes the underlying file.
func (c *JSONLogChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopFlush)
		if err = c.Flush(); err != nil {
			return
		}
		if c.file != nil {
			err = c.file.Close()
		}
	})
	return err
}

func (c *JSONLogChannel) Name() string {
	return "jsonlog"
}
