package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/klauspost/compress/zstd"

	"sleepdx/pkg/errors"
)

const (
	formatName    = "sleepdx-artifact"
	formatVersion = 1
)

// envelope frames the artifact payload with a checksum so truncated or
// tampered blobs are rejected before any field is trusted
type envelope struct {
	Format   string          `json:"format"`
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
)

// Encode validates and serializes an artifact into a compressed blob
func Encode(a *Artifact) ([]byte, error) {
	if a == nil {
		return nil, errors.New("artifact is nil")
	}
	if err := a.Validate(); err != nil {
		return nil, errors.Wrap(err, "refusing to encode invalid artifact")
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal artifact")
	}
	sum := sha256.Sum256(payload)

	framed, err := json.Marshal(envelope{
		Format:   formatName,
		Version:  formatVersion,
		Checksum: hex.EncodeToString(sum[:]),
		Payload:  payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}

	return encoder.EncodeAll(framed, nil), nil
}

// Decode parses and validates a blob produced by Encode. Every failure wraps
// ErrCorruptArtifact.
func Decode(blob []byte) (*Artifact, error) {
	if len(blob) == 0 {
		return nil, errors.Wrap(errors.ErrCorruptArtifact, "empty blob")
	}

	framed, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, corrupt(err, "decompress")
	}

	var env envelope
	if err := json.Unmarshal(framed, &env); err != nil {
		return nil, corrupt(err, "envelope")
	}
	if env.Format != formatName {
		return nil, errors.Wrapf(errors.ErrCorruptArtifact, "unexpected format %q", env.Format)
	}
	if env.Version != formatVersion {
		return nil, errors.Wrapf(errors.ErrCorruptArtifact, "unsupported format version %d", env.Version)
	}

	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, errors.Wrap(errors.ErrCorruptArtifact, "checksum mismatch")
	}

	var a Artifact
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return nil, corrupt(err, "payload")
	}
	if err := a.Validate(); err != nil {
		return nil, corrupt(err, "validate")
	}
	return &a, nil
}

func corrupt(err error, stage string) error {
	return errors.Wrapf(errors.ErrCorruptArtifact, "%s: %v", stage, err)
}
