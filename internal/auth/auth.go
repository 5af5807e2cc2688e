// Package auth signs requests the collaboration service makes to the host
// platform, using RSA-PSS over SHA-256.
//
// The platform verifies the signature with the service's registered public
// key, which lets it distinguish collaboration-service calls (permission
// checks, schema snapshots) from ordinary user traffic.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Header names carried by a signed request.
const (
	HeaderKey       = "X-Collab-Key"
	HeaderTimestamp = "X-Collab-Timestamp"
	HeaderSignature = "X-Collab-Signature"
)

// ErrBadSignature is returned by Verify when a signature does not match.
var ErrBadSignature = errors.New("bad request signature")

// Credentials holds the service key used to sign platform requests.
type Credentials struct {
	KeyID      string          // Service key ID registered with the platform
	PrivateKey *rsa.PrivateKey // RSA private key for signing
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("service key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// PKCS#8 first, then PKCS#1
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignRequest generates the signature headers for a request.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	return c.signAt(time.Now(), method, path)
}

func (c *Credentials) signAt(now time.Time, method, path string) (map[string]string, error) {
	timestampMs := now.UnixMilli()

	hashed := digest(timestampMs, method, path)
	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return map[string]string{
		HeaderKey:       c.KeyID,
		HeaderTimestamp: strconv.FormatInt(timestampMs, 10),
		HeaderSignature: base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// Sign adds signature headers to req.
func (c *Credentials) Sign(req *http.Request) error {
	headers, err := c.SignRequest(req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// Verify checks the signature headers of req against pub.
func Verify(pub *rsa.PublicKey, req *http.Request) error {
	timestampMs, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrBadSignature, err)
	}
	signature, err := base64.StdEncoding.DecodeString(req.Header.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrBadSignature, err)
	}

	hashed := digest(timestampMs, req.Method, req.URL.Path)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// digest hashes timestamp_ms + method + path.
func digest(timestampMs int64, method, path string) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%d%s%s", timestampMs, method, path)))
}
