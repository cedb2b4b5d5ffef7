// Package localfs backs the mailbox bucket with a plain directory so the
// whole handshake can run offline: presigned POSTs are HMAC-signed forms
// targeting the gateway's own dev upload route instead of S3.
package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

const (
	metaSuffix = ".meta"
	tmpPattern = ".upload-*"

	fieldKey         = "key"
	fieldContentType = "Content-Type"
	fieldExpires     = "x-dev-expires"
	fieldMaxBytes    = "x-dev-max-bytes"
	fieldSignature   = "x-dev-signature"
)

var (
	ErrSignatureInvalid = errors.New("dev upload signature invalid")
	ErrSignatureExpired = errors.New("dev upload signature expired")
)

type Config struct {
	// Root is the directory standing in for the bucket.
	Root string
	// SignKey signs dev presigned POST forms.
	SignKey string
	// PostURL is where the signed form is submitted, normally
	// <public url>/api/v1/dev/bucket.
	PostURL string
}

type Store struct {
	root    string
	signKey []byte
	postURL string
}

var (
	_ ports.ObjectStore   = (*Store)(nil)
	_ ports.PostPresigner = (*Store)(nil)
)

func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("localfs root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Store{
		root:    root,
		signKey: []byte(cfg.SignKey),
		postURL: strings.TrimRight(strings.TrimSpace(cfg.PostURL), "/"),
	}, nil
}

// Root returns the bucket directory, used by the loopback worker to watch
// for new objects.
func (s *Store) Root() string { return s.root }

func (s *Store) EnsureBucket(ctx context.Context) error {
	_ = ctx
	return os.MkdirAll(s.root, 0o755)
}

// resolve maps a key to an absolute path under root. Keys are generated by
// this process, so dot segments are always hostile and rejected outright.
func (s *Store) resolve(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("object key %q escapes the bucket root", key)
		}
	}
	clean := path.Clean("/" + trimmed)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the bucket root", key)
	}
	return full, nil
}

type sidecar struct {
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

func (s *Store) Put(ctx context.Context, key, contentType string, reader io.Reader, size int64) error {
	_ = size
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", key, err)
	}

	// Write to a temp file and rename so readers and watchers never see a
	// partially written object.
	tmp, err := os.CreateTemp(filepath.Dir(full), tmpPattern)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	hasher := md5.New()
	if _, err := io.Copy(tmp, io.TeeReader(reader, hasher)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}

	meta, err := json.Marshal(sidecar{
		ContentType: contentType,
		ETag:        hex.EncodeToString(hasher.Sum(nil)),
	})
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode metadata for %s: %w", key, err)
	}
	if err := os.WriteFile(full+metaSuffix, meta, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	full, err := s.resolve(key)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.ObjectInfo{}, fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
		}
		return nil, ports.ObjectInfo{}, err
	}
	return f, info, nil
}

func (s *Store) Stat(ctx context.Context, key string) (ports.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ports.ObjectInfo{}, err
	}
	full, err := s.resolve(key)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.ObjectInfo{}, fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
		}
		return ports.ObjectInfo{}, err
	}
	if fi.IsDir() {
		return ports.ObjectInfo{}, fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
	}

	info := ports.ObjectInfo{
		Key:          strings.TrimPrefix(path.Clean("/"+key), "/"),
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}
	if raw, err := os.ReadFile(full + metaSuffix); err == nil {
		var meta sidecar
		if err := json.Unmarshal(raw, &meta); err == nil {
			info.ContentType = meta.ContentType
			info.ETag = meta.ETag
		}
	}
	return info, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	var infos []ports.ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, statErr := s.Stat(ctx, key)
		if statErr != nil {
			if ports.IsObjectNotFound(statErr) {
				return nil
			}
			return statErr
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ports.ErrObjectNotFound, key)
		}
		return err
	}
	_ = os.Remove(full + metaSuffix)
	return nil
}

// PresignPost mints a signed form that the dev upload route will accept.
// The wire shape matches the S3 path so upload code stays backend-agnostic.
func (s *Store) PresignPost(ctx context.Context, key string, input ports.PresignInput) (*ports.PresignedPostPolicy, error) {
	_ = ctx
	if len(s.signKey) == 0 {
		return nil, errors.New("localfs presigning requires a sign key")
	}
	if s.postURL == "" {
		return nil, errors.New("localfs presigning requires a post url")
	}
	if _, err := s.resolve(key); err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := time.Now().UTC().Add(ttl)

	fields := map[string]string{
		fieldKey:     key,
		fieldExpires: strconv.FormatInt(expiresAt.Unix(), 10),
	}
	if input.ContentType != "" {
		fields[fieldContentType] = input.ContentType
	}
	if input.MaxBytes > 0 {
		fields[fieldMaxBytes] = strconv.FormatInt(input.MaxBytes, 10)
	}
	fields[fieldSignature] = s.sign(key, fields[fieldContentType], fields[fieldExpires], fields[fieldMaxBytes])

	return &ports.PresignedPostPolicy{
		URL:       s.postURL,
		Fields:    fields,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyPost checks a submitted dev form against the sign key and returns
// the constraints the form was signed over.
func (s *Store) VerifyPost(fields map[string]string) (key, contentType string, maxBytes int64, err error) {
	key = fields[fieldKey]
	contentType = fields[fieldContentType]
	rawExpires := fields[fieldExpires]
	rawMax := fields[fieldMaxBytes]

	if key == "" || rawExpires == "" || fields[fieldSignature] == "" {
		return "", "", 0, fmt.Errorf("%w: missing fields", ErrSignatureInvalid)
	}
	want := s.sign(key, contentType, rawExpires, rawMax)
	if !hmac.Equal([]byte(want), []byte(fields[fieldSignature])) {
		return "", "", 0, ErrSignatureInvalid
	}

	expires, parseErr := strconv.ParseInt(rawExpires, 10, 64)
	if parseErr != nil {
		return "", "", 0, fmt.Errorf("%w: bad expiry", ErrSignatureInvalid)
	}
	if time.Now().UTC().After(time.Unix(expires, 0).UTC()) {
		return "", "", 0, ErrSignatureExpired
	}
	if rawMax != "" {
		maxBytes, parseErr = strconv.ParseInt(rawMax, 10, 64)
		if parseErr != nil {
			return "", "", 0, fmt.Errorf("%w: bad max bytes", ErrSignatureInvalid)
		}
	}
	return key, contentType, maxBytes, nil
}

func (s *Store) sign(key, contentType, expires, maxBytes string) string {
	mac := hmac.New(sha256.New, s.signKey)
	_, _ = io.WriteString(mac, strings.Join([]string{key, contentType, expires, maxBytes}, "\n"))
	return hex.EncodeToString(mac.Sum(nil))
}
