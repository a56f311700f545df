package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"invoicex/pkg/types"
)

// line is one JSONL entry. Kind distinguishes orders from trades so a
// single file can carry both streams in arrival order.
type line struct {
	Kind  string       `json:"kind"`
	Order *types.Order `json:"order,omitempty"`
	Trade *types.Trade `json:"trade,omitempty"`
}

// fileBackend appends JSONL lines to a single file.
type fileBackend struct {
	f   *os.File
	enc *json.Encoder
}

func newFileBackend(path string) (*fileBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	return &fileBackend{f: f, enc: json.NewEncoder(f)}, nil
}

func (b *fileBackend) flush(orders []types.Order, trades []types.Trade) error {
	for i := range orders {
		if err := b.enc.Encode(line{Kind: "order", Order: &orders[i]}); err != nil {
			return fmt.Errorf("write order: %w", err)
		}
	}
	for i := range trades {
		if err := b.enc.Encode(line{Kind: "trade", Trade: &trades[i]}); err != nil {
			return fmt.Errorf("write trade: %w", err)
		}
	}
	return nil
}

func (b *fileBackend) close() error {
	return b.f.Close()
}
