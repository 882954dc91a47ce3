// Package codec implements the optional authenticated-encryption and
// compression chain. On send: stringify, then compress (if enabled
// and the payload meets the size threshold), then encrypt (if
// enabled), wrapped in a small envelope that records whether
// compression was applied so receive can mirror the steps in reverse.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/webitel/ws-client-runtime/errs"
)

// CompressionAlgorithm selects the stream compressor.
type CompressionAlgorithm string

const (
	CompressionGzip    CompressionAlgorithm = "gzip"
	CompressionDeflate CompressionAlgorithm = "deflate"
	// CompressionFallback is the pure-software path: a genuine DEFLATE
	// stream (the same one CompressionDeflate produces), so the
	// compression envelope never inflates the payload the way a
	// plain-encoding placeholder would. It is used only when configured;
	// the codec never switches to it on its own.
	CompressionFallback CompressionAlgorithm = "fallback"
)

// EncryptionConfig enables AES-256-GCM over outbound frames.
type EncryptionConfig struct {
	Enabled   bool
	Algorithm string // only "AES-256-GCM" is recognized
	Key       []byte // 32 bytes
	IV        []byte // optional fixed IV (discouraged, 12 bytes)
}

// CompressionConfig enables stream compression above a size threshold.
type CompressionConfig struct {
	Enabled   bool
	Threshold int // minimum byte size before compression is applied
	Algorithm CompressionAlgorithm
}

// Config composes both halves of the codec chain.
type Config struct {
	Encryption  EncryptionConfig
	Compression CompressionConfig
}

// envelope is the small wire wrapper recording whether compression
// was applied, so receive knows whether to decompress before
// unmarshalling. It is only emitted when the codec actually
// transformed the payload; a frame that was neither compressed nor
// encrypted travels as plain JSON.
type envelope struct {
	Compressed bool   `json:"c"`
	Algorithm  string `json:"a,omitempty"`
	Data       string `json:"d"`
}

// Codec applies Config's encryption/compression to outbound text and
// reverses it for inbound text.
type Codec struct {
	cfg Config
	gcm cipher.AEAD
}

// New builds a Codec. If Encryption.Enabled, the AES-256-GCM cipher is
// constructed eagerly so a bad key surfaces at construction rather
// than on the first send.
func New(cfg Config) (*Codec, error) {
	c := &Codec{cfg: cfg}
	if cfg.Encryption.Enabled {
		block, err := aes.NewCipher(cfg.Encryption.Key)
		if err != nil {
			return nil, errs.New(errs.Encryption, "codec.new", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errs.New(errs.Encryption, "codec.new", err)
		}
		c.gcm = gcm
	}
	return c, nil
}

// Encode runs the send-side chain over payload, returning the text
// frame to transmit.
func (c *Codec) Encode(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errs.New(errs.Protocol, "codec.encode", err)
	}

	compressed := false
	algo := ""
	body := raw
	if c.cfg.Compression.Enabled && len(raw) >= c.cfg.Compression.Threshold {
		out, err := compress(raw, c.cfg.Compression.Algorithm)
		if err != nil {
			return "", errs.New(errs.Compression, "codec.encode", err)
		}
		body, compressed, algo = out, true, string(c.cfg.Compression.Algorithm)
	}

	if c.cfg.Encryption.Enabled {
		out, err := c.encrypt(body)
		if err != nil {
			return "", err
		}
		body = out
	}

	if !compressed && !c.cfg.Encryption.Enabled {
		return string(raw), nil
	}

	env := envelope{Compressed: compressed, Algorithm: algo, Data: base64.StdEncoding.EncodeToString(body)}
	out, err := json.Marshal(env)
	if err != nil {
		return "", errs.New(errs.Protocol, "codec.encode", err)
	}
	return string(out), nil
}

// Decode mirrors Encode in reverse, returning the decoded JSON value.
// Frames that do not carry the codec envelope (everything, when
// neither feature is enabled; below-threshold sends, when only
// compression is) are parsed as plain JSON.
func (c *Codec) Decode(text string) (any, error) {
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil || !c.isEnvelope(env) {
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, errs.New(errs.Protocol, "codec.decode", err)
		}
		return v, nil
	}

	body, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, errs.New(errs.Protocol, "codec.decode", err)
	}

	if c.cfg.Encryption.Enabled {
		body, err = c.decrypt(body)
		if err != nil {
			return nil, err
		}
	}

	if env.Compressed {
		body, err = decompress(body, CompressionAlgorithm(env.Algorithm))
		if err != nil {
			return nil, errs.New(errs.Compression, "codec.decode", err)
		}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errs.New(errs.Protocol, "codec.decode", err)
	}
	return v, nil
}

// isEnvelope reports whether a successfully-unmarshalled envelope is a
// genuine codec wrapper rather than an application message that merely
// shares a field name: the data field must be present, and the frame
// must claim a transformation this codec could have to undo.
func (c *Codec) isEnvelope(env envelope) bool {
	if env.Data == "" {
		return false
	}
	return env.Compressed || c.cfg.Encryption.Enabled
}

// encrypt prepends a freshly random 12-byte IV (unless a fixed IV is
// configured) to the GCM-sealed ciphertext.
func (c *Codec) encrypt(plaintext []byte) ([]byte, error) {
	iv := c.cfg.Encryption.IV
	if len(iv) == 0 {
		iv = make([]byte, c.gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return nil, errs.New(errs.Encryption, "codec.encrypt", err)
		}
	}
	sealed := c.gcm.Seal(nil, iv, plaintext, nil)
	return append(iv, sealed...), nil
}

// decrypt verifies the authentication tag; a failure is non-retryable.
func (c *Codec) decrypt(data []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errs.WithRetryable(errs.New(errs.Encryption, "codec.decrypt", fmt.Errorf("ciphertext too short")), false)
	}
	iv, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := c.gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, errs.WithRetryable(errs.New(errs.Encryption, "codec.decrypt", err), false)
	}
	return plain, nil
}

func compress(data []byte, algo CompressionAlgorithm) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionDeflate, CompressionFallback, "":
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("codec: unknown compression algorithm %q", algo)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte, algo CompressionAlgorithm) ([]byte, error) {
	switch algo {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	}
}
