package filestore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature is returned for a tampered or foreign signature
	ErrInvalidSignature = errors.New("filestore: invalid signature")

	// ErrExpired is returned for a signature past its expiry
	ErrExpired = errors.New("filestore: signature expired")
)

// Signer creates expiring download URLs, verified by the file routes
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a signer for URLs under baseURL
func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SignDownloadURL returns the download URL of fileID valid for the signer ttl
func (s *Signer) SignDownloadURL(fileID string) (string, error) {
	if fileID == "" {
		return "", ErrNotFound
	}
	expires := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sign", s.sign(fileID, expires))
	return s.baseURL + "/file/" + url.PathEscape(fileID) + "?" + q.Encode(), nil
}

// Verify checks the expires and sign query values of a download request
func (s *Signer) Verify(fileID, expires, sign string) error {
	want := s.sign(fileID, expires)
	if !hmac.Equal([]byte(want), []byte(sign)) {
		return ErrInvalidSignature
	}
	sec, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().After(time.Unix(sec, 0)) {
		return ErrExpired
	}
	return nil
}

func (s *Signer) sign(fileID, expires string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(fileID))
	m.Write([]byte{0})
	m.Write([]byte(expires))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
