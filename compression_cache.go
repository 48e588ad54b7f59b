package sensorcache

import (
	"context"
	"log/slog"
)

// CompressionCache stores values through a RecordStore in encoded form.
type CompressionCache struct {
	codec   *Codec
	records *RecordStore
	logger  *slog.Logger
}

// NewCompressionCache creates a compression cache writing to records.
func NewCompressionCache(codec *Codec, records *RecordStore, logger *slog.Logger) *CompressionCache {
	if codec == nil {
		codec = NewCodec(CodecSnappy, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompressionCache{
		codec:   codec,
		records: records,
		logger:  logger.With("component", "compression"),
	}
}

// Encode compresses plain; see Codec.Encode.
func (c *CompressionCache) Encode(plain string) (string, error) {
	return c.codec.Encode(plain)
}

// Decode decompresses encoded; see Codec.Decode.
func (c *CompressionCache) Decode(encoded string) (string, bool) {
	return c.codec.Decode(encoded)
}

// Put encodes plain and stores it for deviceID under taskID.
func (c *CompressionCache) Put(ctx context.Context, taskID, deviceID, plain string) error {
	encoded, err := c.codec.Encode(plain)
	if err != nil {
		return err
	}
	if len(plain) > 0 {
		compressionRatio.Observe(ratio(len(plain), len(encoded)))
	}
	return c.records.Put(ctx, taskID, deviceID, encoded)
}

// Get returns the decoded value of deviceID under taskID. A value that cannot
// be decoded is reported like a missing one.
func (c *CompressionCache) Get(ctx context.Context, taskID, deviceID string) (string, bool, error) {
	encoded, ok, err := c.records.Get(ctx, taskID, deviceID)
	if err != nil || !ok {
		return "", false, err
	}
	plain, ok := c.codec.Decode(encoded)
	if !ok {
		c.logger.Debug("stored value is not decodable", "task", taskID, "device", deviceID)
		return "", false, nil
	}
	return plain, true, nil
}

// ratio returns the space saved in percent.
func ratio(original, compressed int) float64 {
	if original == 0 {
		return 0
	}
	return (1 - float64(compressed)/float64(original)) * 100
}
