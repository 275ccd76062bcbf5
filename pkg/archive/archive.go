package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// ObjectStore is the subset of pkg/s3.Client used for archives.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key, contentType string, data []byte, meta map[string]string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Archiver writes JSON documents as zstd frames, age-encrypted when a recipient is set.
type Archiver struct {
	store     ObjectStore
	bucket    string
	recipient age.Recipient
	signer    *Signer
	now       func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithSigner writes a signed manifest next to every object when s can sign,
// and verifies manifests on Get.
func WithSigner(s *Signer) Option {
	return func(a *Archiver) { a.signer = s }
}

// New returns an Archiver. recipient is an optional age X25519 public key.
func New(store ObjectStore, bucket, recipient string, opts ...Option) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("archive: object store is required")
	}
	if bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	a := &Archiver{store: store, bucket: bucket, now: time.Now}
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("archive: parse age recipient: %w", err)
		}
		a.recipient = r
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Key builds an object key under prefix stamped with the archive time.
func (a *Archiver) Key(prefix string) string {
	name := a.now().UTC().Format("20060102T150405.000000000Z") + ".json.zst"
	if a.recipient != nil {
		name += ".age"
	}
	return path.Join(prefix, name)
}

// Put encodes v and stores it under prefix, returning the object key.
func (a *Archiver) Put(ctx context.Context, prefix string, v any) (string, error) {
	data, err := Encode(v, a.recipient)
	if err != nil {
		return "", err
	}
	key := a.Key(prefix)
	meta := map[string]string{"encoding": "zstd"}
	if a.recipient != nil {
		meta["encryption"] = "age"
	}
	if err := a.store.Put(ctx, a.bucket, key, "application/zstd", data, meta); err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	if a.signer.CanSign() {
		if err := a.putManifest(ctx, key, data, meta["encryption"]); err != nil {
			return "", err
		}
	}
	return key, nil
}

func (a *Archiver) putManifest(ctx context.Context, key string, data []byte, encryption string) error {
	sum := sha256.Sum256(data)
	m := Manifest{
		Version:          ManifestVersion,
		Key:              key,
		CreatedAt:        a.now().UTC(),
		Size:             len(data),
		SHA256:           hex.EncodeToString(sum[:]),
		Encryption:       encryption,
		SigningPublicKey: a.signer.PublicKeyBase64(),
	}
	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("archive: manifest bytes: %w", err)
	}
	if m.Signature, err = a.signer.Sign(payload); err != nil {
		return err
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := a.store.Put(ctx, a.bucket, ManifestKey(key), "application/yaml", out, nil); err != nil {
		return fmt.Errorf("archive: put manifest for %s: %w", key, err)
	}
	return nil
}

// Manifest fetches the manifest stored for key.
func (a *Archiver) Manifest(ctx context.Context, key string) (Manifest, error) {
	raw, err := a.store.Get(ctx, a.bucket, ManifestKey(key))
	if err != nil {
		return Manifest{}, fmt.Errorf("archive: get manifest for %s: %w", key, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("archive: parse manifest: %w", err)
	}
	return m, nil
}

// verify checks data against the signed manifest stored for key.
func (a *Archiver) verify(ctx context.Context, key string, data []byte) error {
	m, err := a.Manifest(ctx, key)
	if err != nil {
		return err
	}
	if m.Key != key {
		return fmt.Errorf("archive: manifest describes %s, not %s", m.Key, key)
	}
	payload, err := m.SigningBytes()
	if err != nil {
		return fmt.Errorf("archive: manifest bytes: %w", err)
	}
	if err := a.signer.Verify(payload, m.Signature, m.SigningPublicKey); err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != m.SHA256 || len(data) != m.Size {
		return fmt.Errorf("archive: %s does not match its manifest", key)
	}
	return nil
}

// Get fetches key and decodes it into v. identity is required for encrypted
// objects; when nil, the signer's age identity is tried. With a signer
// configured the object is checked against its manifest first.
func (a *Archiver) Get(ctx context.Context, key string, identity age.Identity, v any) error {
	data, err := a.store.Get(ctx, a.bucket, key)
	if err != nil {
		return fmt.Errorf("archive: get %s: %w", key, err)
	}
	if a.signer != nil {
		if err := a.verify(ctx, key, data); err != nil {
			return err
		}
	}
	if identity == nil {
		identity = a.signer.Identity()
	}
	if !strings.HasSuffix(key, ".age") {
		identity = nil
	}
	return Decode(data, identity, v)
}

// Encode marshals v to JSON, compresses it and optionally encrypts it.
func Encode(v any, recipient age.Recipient) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("archive: zstd writer: %w", err)
	}
	compressed := encoder.EncodeAll(raw, nil)
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("archive: close zstd writer: %w", err)
	}
	if recipient == nil {
		return compressed, nil
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("archive: age encrypt: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return nil, fmt.Errorf("archive: age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: age close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. A nil identity means the data is not encrypted.
func Decode(data []byte, identity age.Identity, v any) error {
	if identity != nil {
		r, err := age.Decrypt(bytes.NewReader(data), identity)
		if err != nil {
			return fmt.Errorf("archive: age decrypt: %w", err)
		}
		data, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("archive: read decrypted: %w", err)
		}
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("archive: zstd reader: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("archive: zstd decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("archive: unmarshal: %w", err)
	}
	return nil
}
