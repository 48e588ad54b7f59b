package sensorcache

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testEncryptor(t *testing.T, password string) *Encryptor {
	t.Helper()
	e, err := NewEncryptorWithPassword(password, []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewEncryptorWithPassword failed: %v", err)
	}
	return e
}

func TestCodec_Identity(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"abc",
		SampleReadings(200),
		"ünïcödé ✓ 温度",
		strings.Repeat("0123456789", 10000),
	}
	for _, ct := range []CodecType{CodecSnappy, CodecZstd, CodecGzip} {
		for _, encrypted := range []bool{false, true} {
			var enc *Encryptor
			if encrypted {
				enc = testEncryptor(t, "secret")
			}
			codec := NewCodec(ct, enc)
			for _, in := range inputs {
				encoded, err := codec.Encode(in)
				if err != nil {
					t.Fatalf("%s/%v: Encode failed: %v", ct, encrypted, err)
				}
				if encoded == in {
					t.Errorf("%s/%v: encoded value equals input", ct, encrypted)
				}
				out, ok := codec.Decode(encoded)
				if !ok || out != in {
					t.Errorf("%s/%v: round trip failed for input of %d bytes", ct, encrypted, len(in))
				}
			}
		}
	}
}

func TestCodec_EncodeEmpty(t *testing.T) {
	for _, ct := range []CodecType{CodecSnappy, CodecZstd, CodecGzip} {
		encoded, err := NewCodec(ct, nil).Encode("")
		if err != nil {
			t.Fatalf("%s: Encode failed: %v", ct, err)
		}
		tag, body, _ := strings.Cut(encoded, ":")
		if tag != ct.tag() || body == "" {
			t.Errorf("%s: expected a tagged non-empty payload, got %q", ct, encoded)
		}
	}
}

func TestCodec_DecodeForeign(t *testing.T) {
	codec := NewCodec(CodecSnappy, nil)
	invalidSnappy := base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	inputs := []string{
		"",
		"hello",
		"sz:",
		"sz:!!!",
		"xx:aGVsbG8=",
		"sz:" + invalidSnappy,
		"zs:" + invalidSnappy,
		"gz:" + invalidSnappy,
		`[{"timestamp":1}]`,
	}
	for _, in := range inputs {
		if out, ok := codec.Decode(in); ok {
			t.Errorf("Decode(%q) = %q, true; want false", in, out)
		}
	}
}

func TestCodec_DecodeAcrossCodecs(t *testing.T) {
	encoded, err := NewCodec(CodecZstd, nil).Encode("written with zstd")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// The tag selects the codec, not the reader's configuration
	out, ok := NewCodec(CodecGzip, nil).Decode(encoded)
	if !ok || out != "written with zstd" {
		t.Errorf("expected cross-codec decode, got %q %v", out, ok)
	}
}

func TestCodec_EncryptedWithoutKey(t *testing.T) {
	encoded, err := NewCodec(CodecSnappy, testEncryptor(t, "secret")).Encode("classified")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "sz+enc:") {
		t.Errorf("unexpected tag in %q", encoded)
	}

	if _, ok := NewCodec(CodecSnappy, nil).Decode(encoded); ok {
		t.Error("expected decode without key to fail")
	}
	if _, ok := NewCodec(CodecSnappy, testEncryptor(t, "other")).Decode(encoded); ok {
		t.Error("expected decode with wrong key to fail")
	}
}

func TestParseCodecType(t *testing.T) {
	tests := []struct {
		in      string
		want    CodecType
		wantErr bool
	}{
		{"", CodecSnappy, false},
		{"snappy", CodecSnappy, false},
		{"ZSTD", CodecZstd, false},
		{"gzip", CodecGzip, false},
		{"lz4", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCodecType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCodecType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRatio(t *testing.T) {
	if r := ratio(0, 10); r != 0 {
		t.Errorf("expected 0 for empty input, got %f", r)
	}
	if r := ratio(100, 25); r != 75 {
		t.Errorf("expected 75, got %f", r)
	}
}
