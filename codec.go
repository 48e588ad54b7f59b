package sensorcache

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CodecType selects the compression applied to cached values.
type CodecType string

const (
	// CodecSnappy is fast with a moderate ratio. It is the default.
	CodecSnappy CodecType = "snappy"
	// CodecZstd trades speed for a better ratio.
	CodecZstd CodecType = "zstd"
	// CodecGzip is the most widely readable format.
	CodecGzip CodecType = "gzip"
)

// Tags prefix every encoded value so that Decode can pick the codec that wrote
// it.
const (
	tagSnappy    = "sz"
	tagZstd      = "zs"
	tagGzip      = "gz"
	tagEncrypted = "+enc"
)

// ParseCodecType parses a codec name. The empty string selects CodecSnappy.
func ParseCodecType(s string) (CodecType, error) {
	switch CodecType(strings.ToLower(s)) {
	case "", CodecSnappy:
		return CodecSnappy, nil
	case CodecZstd:
		return CodecZstd, nil
	case CodecGzip:
		return CodecGzip, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", s)
	}
}

func (c CodecType) tag() string {
	switch c {
	case CodecZstd:
		return tagZstd
	case CodecGzip:
		return tagGzip
	default:
		return tagSnappy
	}
}

// compress encodes src with codec c.
func compress(c CodecType, src []byte) ([]byte, error) {
	switch c {
	case CodecSnappy, "":
		return snappy.Encode(nil, src), nil
	case CodecZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(src, nil), nil
	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", c)
	}
}

// decompress reverses compress for the codec named by tag.
func decompress(tag string, src []byte) ([]byte, error) {
	switch tag {
	case tagSnappy:
		return snappy.Decode(nil, src)
	case tagZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(src, nil)
	case tagGzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown codec tag %q", tag)
	}
}

// The zstd encoder and decoder are safe for concurrent EncodeAll/DecodeAll and
// expensive to build, so one of each is shared.
var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdEncErr  error

	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func zstdEncoder() (*zstd.Encoder, error) {
	zstdEncOnce.Do(func() {
		zstdEnc, zstdEncErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	})
	return zstdEnc, zstdEncErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})
	return zstdDec, zstdDecErr
}

// Codec is the reversible text codec of the compression cache. Encoded values
// have the form "<tag>:<base64 payload>", so they are plain strings that any
// Record Store can hold.
type Codec struct {
	codec     CodecType
	encryptor *Encryptor
}

// NewCodec returns a codec compressing with c and, if encryptor is non-nil,
// encrypting the compressed payload.
func NewCodec(c CodecType, encryptor *Encryptor) *Codec {
	if c == "" {
		c = CodecSnappy
	}
	return &Codec{codec: c, encryptor: encryptor}
}

// Type returns the compression used for new values.
func (c *Codec) Type() CodecType { return c.codec }

// Encode compresses plain. A codec producing no output is a KindCompression
// error; Encode never falls back to storing plaintext. Empty input still yields
// a non-empty payload.
func (c *Codec) Encode(plain string) (string, error) {
	payload, err := compress(c.codec, []byte(plain))
	if err != nil {
		return "", newError(KindCompression, "encode", "", err)
	}
	if len(payload) == 0 {
		return "", newError(KindCompression, "encode", "", fmt.Errorf("%s produced no output", c.codec))
	}

	tag := c.codec.tag()
	if c.encryptor != nil {
		if payload, err = c.encryptor.Encrypt(payload); err != nil {
			return "", newError(KindCompression, "encrypt", "", err)
		}
		tag += tagEncrypted
	}
	return tag + ":" + base64.StdEncoding.EncodeToString(payload), nil
}

// Decode reverses Encode. It reports false for any string that was not produced
// by Encode, including values written by a codec with a different key.
func (c *Codec) Decode(encoded string) (string, bool) {
	tag, body, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", false
	}
	payload, err := base64.StdEncoding.DecodeString(body)
	if err != nil || len(payload) == 0 {
		return "", false
	}

	if base, found := strings.CutSuffix(tag, tagEncrypted); found {
		if c.encryptor == nil {
			return "", false
		}
		if payload, err = c.encryptor.Decrypt(payload); err != nil {
			return "", false
		}
		tag = base
	}

	plain, err := decompress(tag, payload)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
