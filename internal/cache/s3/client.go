package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/config"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Client implements the S3 calls the cache server needs, signed with SigV4.
type Client struct {
	bucket    string
	pathStyle bool
	endpoint  *url.URL
	signer    signer
	client    *http.Client
}

// newClient constructs an S3 client from configuration.
// Without a host the AWS endpoint of the region is used.
func newClient(cfg config.CacheServerConfig, httpClient *http.Client) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errS3BucketIsEmpty
	}
	if httpClient == nil {
		return nil, errS3HTTPClientNil
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	endpoint := cfg.Endpoint()
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	parsed, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errS3InvalidEndpoint, endpoint)
	}
	return &Client{
		bucket:    cfg.Bucket,
		pathStyle: cfg.PathStyle,
		endpoint:  parsed,
		signer: signer{
			accessKey:    cfg.AccessKey,
			secretKey:    cfg.SecretKey,
			sessionToken: cfg.SessionToken,
			region:       region,
		},
		client: httpClient,
	}, nil
}

// request describes one S3 call. An empty key addresses the bucket.
type request struct {
	method          string
	key             string
	query           url.Values
	body            io.ReadSeeker
	size            int64
	payloadHash     string
	contentType     string
	contentEncoding string
	meta            map[string]string
	ifNoneMatch     bool
}

// send signs and performs r. The caller owns the response body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	if r.payloadHash == "" {
		if r.body == nil {
			r.payloadHash = emptySHA256
		} else {
			hash, err := hashSeeker(r.body)
			if err != nil {
				return nil, err
			}
			r.payloadHash = hash
		}
	}
	reqURL, host, canonicalURI, canonicalQuery := c.requestURL(r.key, r.query)
	var body io.Reader
	if r.body != nil {
		body = r.body
	}
	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Host = host
	req.ContentLength = r.size
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.contentEncoding != "" {
		req.Header.Set("Content-Encoding", r.contentEncoding)
	}
	for name, value := range r.meta {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		req.Header.Set("X-Amz-Meta-"+helpers.UpperFirstRune(strings.TrimSpace(name)), value)
	}
	if r.ifNoneMatch {
		req.Header.Set("If-None-Match", "*")
	}
	c.signer.sign(req, host, canonicalURI, canonicalQuery, r.payloadHash)
	return c.client.Do(req)
}

// call performs r and maps the status code. The body is drained and closed
// unless keep is set and the call succeeded.
func (c *Client) call(ctx context.Context, r request, failed error, keep bool) (*http.Response, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	err = statusError(r, resp.StatusCode, resp.Status, failed)
	if err != nil || !keep {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func statusError(r request, code int, status string, failed error) error {
	switch code {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		switch {
		case r.method == http.MethodDelete:
			return nil
		case r.key == "":
			return errS3BucketNotFound
		case r.method == http.MethodPut:
			return errS3BucketNotFound
		default:
			return errS3NotFound
		}
	case http.StatusPreconditionFailed:
		if r.ifNoneMatch {
			return errS3PreconditionFailed
		}
	case http.StatusConflict:
		if r.key == "" && r.method == http.MethodPut {
			// the bucket already exists.
			return nil
		}
	}
	return fmt.Errorf("%w: %s", failed, status)
}

// getObject starts downloading key. The caller closes the body.
func (c *Client) getObject(ctx context.Context, key string) (*http.Response, error) {
	return c.call(ctx, request{method: http.MethodGet, key: key}, errS3GetFailed, true)
}

// headObject returns the headers of key.
func (c *Client) headObject(ctx context.Context, key string) (http.Header, error) {
	resp, err := c.call(ctx, request{method: http.MethodHead, key: key}, errS3HeadFailed, false)
	if err != nil {
		return nil, err
	}
	return resp.Header.Clone(), nil
}

// putObject uploads body as key.
func (c *Client) putObject(
	ctx context.Context,
	key string,
	body io.ReadSeeker,
	size int64,
	contentType, contentEncoding string,
	meta map[string]string,
	ifNoneMatch bool,
	payloadHash string,
) error {
	_, err := c.call(ctx, request{
		method:          http.MethodPut,
		key:             key,
		body:            body,
		size:            size,
		payloadHash:     payloadHash,
		contentType:     contentType,
		contentEncoding: contentEncoding,
		meta:            meta,
		ifNoneMatch:     ifNoneMatch,
	}, errS3PutFailed, false)
	return err
}

// deleteObject deletes key. A missing key is not an error.
func (c *Client) deleteObject(ctx context.Context, key string) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, key: key}, errS3DeleteFailed, false)
	return err
}

// listObjects returns every key under prefix.
func (c *Client) listObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token string
	for {
		query := url.Values{}
		query.Set("list-type", "2")
		if prefix != "" {
			query.Set("prefix", prefix)
		}
		if token != "" {
			query.Set("continuation-token", token)
		}
		resp, err := c.call(ctx, request{method: http.MethodGet, query: query}, errS3BucketRequestFailed, true)
		if err != nil {
			return nil, err
		}
		var page listBucketResult
		err = xml.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		for _, item := range page.Contents {
			if item.Key != "" {
				keys = append(keys, item.Key)
			}
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			return keys, nil
		}
		token = page.NextContinuationToken
	}
}

// ensureBucket creates the bucket when it does not exist.
func (c *Client) ensureBucket(ctx context.Context) error {
	_, err := c.call(ctx, request{method: http.MethodHead}, errS3BucketHeadFailed, false)
	if errors.Is(err, errS3BucketNotFound) {
		return c.createBucket(ctx)
	}
	return err
}

// createBucket sends a CreateBucket request with region configuration.
func (c *Client) createBucket(ctx context.Context) error {
	r := request{method: http.MethodPut}
	if c.signer.region != defaultRegion {
		payload := fmt.Appendf(nil,
			"<CreateBucketConfiguration xmlns=\"http://s3.amazonaws.com/doc/2006-03-01/\">"+
				"<LocationConstraint>%s</LocationConstraint>"+
				"</CreateBucketConfiguration>",
			c.signer.region,
		)
		hash := sha256.Sum256(payload)
		r.body = bytes.NewReader(payload)
		r.size = int64(len(payload))
		r.payloadHash = hex.EncodeToString(hash[:])
		r.contentType = "application/xml"
	}
	_, err := c.call(ctx, r, errS3CreateBucketFailed, false)
	return err
}

// listBucketResult represents the S3 ListObjectsV2 XML response.
type listBucketResult struct {
	Contents              []listBucketContent `xml:"Contents"`
	IsTruncated           bool                `xml:"IsTruncated"`
	NextContinuationToken string              `xml:"NextContinuationToken"`
}

// listBucketContent represents an object entry in a ListObjectsV2 response.
type listBucketContent struct {
	Key string `xml:"Key"`
}

// requestURL builds the request URL and canonical components.
func (c *Client) requestURL(key string, query url.Values) (string, string, string, string) {
	host := c.endpoint.Host
	key = strings.TrimLeft(key, "/")

	var objectPath string
	if c.pathStyle {
		objectPath = "/" + c.bucket
		if key != "" {
			objectPath += "/" + key
		}
	} else {
		host = c.bucket + "." + host
		objectPath = "/" + key
	}

	canonicalURI := encodePath(objectPath)
	canonicalQuery := canonicalizeQuery(query)
	reqURL := c.endpoint.Scheme + "://" + host + c.endpoint.Path + canonicalURI
	if canonicalQuery != "" {
		reqURL += "?" + canonicalQuery
	}
	return reqURL, host, canonicalURI, canonicalQuery
}

// hashSeeker returns the SHA256 of r and rewinds it.
func hashSeeker(r io.ReadSeeker) (string, error) {
	hash, err := hashReader(r)
	if err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hash, nil
}

// hashReader returns the SHA256 hash of the reader's contents.
func hashReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
