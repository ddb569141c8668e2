package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"go.uber.org/zap"

	"agentmesh/internal/wire"
)

// BatchProcessor consumes one drained batch of incoming messages. A
// returned error puts the batch back at the front of the queue.
type BatchProcessor interface {
	Process(ctx context.Context, batch []wire.Incoming) error
}

// ProcessorFunc adapts a function to BatchProcessor.
type ProcessorFunc func(ctx context.Context, batch []wire.Incoming) error

func (f ProcessorFunc) Process(ctx context.Context, batch []wire.Incoming) error {
	return f(ctx, batch)
}

// ExecProcessor hands each batch to an external command as a JSON array
// on stdin. The command's exit status decides whether the batch is
// considered consumed.
type ExecProcessor struct {
	Command string
	Args    []string
	Log     *zap.Logger
}

func (p *ExecProcessor) Process(ctx context.Context, batch []wire.Incoming) error {
	b, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(b)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start processor %s: %w", p.Command, err)
	}
	// Drain output so the child never blocks on a full pipe.
	io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		if p.Log != nil {
			p.Log.Warn("processor failed", zap.String("command", p.Command), zap.Error(err))
		}
		return fmt.Errorf("processor %s: %w", p.Command, err)
	}
	return nil
}
