package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/transparency-dev/tessera"
	"github.com/transparency-dev/tessera/storage/posix"
)

// TesseraMirror republishes receipts to a Tessera log on local disk, so the
// journal can be served as tlog-tiles and witnessed.
type TesseraMirror struct {
	appender *tessera.Appender
	shutdown func(context.Context) error
	ctx      context.Context
	logger   *slog.Logger
}

// NewTesseraMirror opens or creates a POSIX Tessera log at path.
func NewTesseraMirror(ctx context.Context, path string, signer *NoteSigner, logger *slog.Logger) (*TesseraMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := posix.New(ctx, posix.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create POSIX driver: %w", err)
	}

	opts := tessera.NewAppendOptions().
		WithCheckpointSigner(signer).
		WithCheckpointInterval(time.Second).
		WithBatching(1, 100*time.Millisecond)

	appender, shutdown, _, err := tessera.NewAppender(ctx, driver, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create appender: %w", err)
	}
	return &TesseraMirror{appender: appender, shutdown: shutdown, ctx: ctx, logger: logger}, nil
}

// Add queues data and returns at once. The assigned index is logged when
// Tessera integrates the entry.
func (m *TesseraMirror) Add(seq uint64, data []byte) {
	future := m.appender.Add(m.ctx, tessera.NewEntry(data))
	go func() {
		index, err := future()
		if err != nil {
			m.logger.Warn("tessera mirror append failed", "seq", seq, "error", err)
			return
		}
		m.logger.Debug("tessera mirror append", "seq", seq, "index", index.Index)
	}()
}

// Close flushes pending entries.
func (m *TesseraMirror) Close(ctx context.Context) error {
	return m.shutdown(ctx)
}
