// Package r2s3 copies local files to an S3-compatible bucket such as R2.
package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Client uploads objects with path-style URLs: endpoint/bucket/key.
type Client struct {
	endpoint string
	bucket   string
	creds    credentials
	http     *http.Client
	now      func() time.Time
}

func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	creds := credentials{id: strings.TrimSpace(accessKeyID), secret: strings.TrimSpace(secretAccessKey)}
	bucket = strings.TrimSpace(bucket)
	if creds.id == "" || creds.secret == "" {
		return nil, errors.New("backup credentials are required")
	}
	if bucket == "" {
		return nil, errors.New("backup bucket is required")
	}

	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("backup endpoint %q is not a URL", endpoint)
	}
	return &Client{
		endpoint: strings.TrimSuffix(u.String(), "/"),
		bucket:   bucket,
		creds:    creds,
		http:     &http.Client{Timeout: 2 * time.Minute},
		now:      time.Now,
	}, nil
}

// PutFile uploads the file at localPath as key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", localPath)
	}
	return c.Put(ctx, key, f, st.Size())
}

// Put uploads size bytes from body as key. Body is read once for the payload
// hash and again to send it.
func (c *Client) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	key, ok := cleanKey(key)
	if !ok {
		return fmt.Errorf("object key %q leaves the bucket", key)
	}
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return fmt.Errorf("hash %s: %w", key, err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}

	uri := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uri, io.NopCloser(body))
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	c.creds.sign(req, uri, hex.EncodeToString(h.Sum(nil)), c.now().UTC())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(detail)))
}

// cleanKey strips leading slashes and refuses keys that climb out of the bucket.
func cleanKey(key string) (string, bool) {
	key = strings.Trim(strings.ReplaceAll(key, "\\", "/"), "/ ")
	if key == "" {
		return "", false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return key, false
		}
	}
	key = path.Clean(key)
	return key, key != "."
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// credentials sign requests with AWS Signature V4. R2 accepts any region and
// documents "auto".
type credentials struct {
	id, secret string
}

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigRegion    = "auto"
	sigService   = "s3"
	// Only these headers are signed; the Content-Type is left out.
	signedHeaders = "host;x-amz-content-sha256;x-amz-date"
)

func (cr credentials) sign(req *http.Request, uri, payloadHash string, at time.Time) {
	stamp := at.Format("20060102T150405Z")
	day := stamp[:8]
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	canonical := fmt.Sprintf("%s\n%s\n\nhost:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n%s\n%s",
		req.Method, uri, req.URL.Host, payloadHash, stamp, signedHeaders, payloadHash)
	scope := day + "/" + sigRegion + "/" + sigService + "/aws4_request"
	toSign := sigAlgorithm + "\n" + stamp + "\n" + scope + "\n" + sha256Hex([]byte(canonical))

	key := []byte("AWS4" + cr.secret)
	for _, part := range []string{day, sigRegion, sigService, "aws4_request"} {
		key = hmacSum(key, part)
	}
	req.Header.Set("Authorization", sigAlgorithm+" Credential="+cr.id+"/"+scope+
		", SignedHeaders="+signedHeaders+", Signature="+hex.EncodeToString(hmacSum(key, toSign)))
}

func hmacSum(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
