// Copyright 2019 Ka-Hing Cheung
// Copyright 2021 Yandex LLC
// Copyright 2026 s3fs-fuse contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/soitun/s3fs-fuse/cfg"
)

var s3log = cfg.GetLogger("s3")

// S3Backend is the concrete Backend over github.com/aws/aws-sdk-go's
// service/s3 client. Grounded directly on geesefs's core/backend_s3.go
// S3Backend and its MultipartBlobBegin/Add/Copy/Commit/Abort methods,
// trimmed to the single-cloud, single-tenancy subset this CORE needs
// (no IAM token refresh, no GCS/Ceph multitenancy quirks).
type S3Backend struct {
	client *s3.S3
	bucket string
	cfg    *cfg.Config
}

// NewS3Backend builds the aws-sdk-go session/client from cfg and wraps
// it as a Backend. Grounded on S3Config.ToAwsConfig.
func NewS3Backend(c *cfg.Config) (*S3Backend, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(c.Region),
		S3ForcePathStyle: aws.Bool(!c.Subdomain),
	}
	if c.Endpoint != "" {
		awsConfig.Endpoint = aws.String(c.Endpoint)
	}
	if c.NoVerifySSL {
		awsConfig.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		}
	}
	if c.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(c.AccessKey, c.SecretKey, "")
	} else if c.Profile != "" {
		awsConfig.Credentials = credentials.NewSharedCredentials("", c.Profile)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, ErrIO("build aws session: %v", err)
	}

	if c.SseC != "" {
		if _, err := base64.StdEncoding.DecodeString(c.SseC); err != nil {
			return nil, ErrInvariant("sse-c is not base64-encoded: %v", err)
		}
	}

	return &S3Backend{
		client: s3.New(sess),
		bucket: c.Bucket,
		cfg:    c,
	}, nil
}

func (s *S3Backend) key(path Path) string {
	return strings.TrimPrefix(string(path.WithoutTrailingSlash()), "/")
}

// Head implements Backend.Head via s3.HeadObject, mirroring the
// teacher's HeadBlob.
func (s *S3Backend) Head(ctx context.Context, path Path) (Attributes, error) {
	key := s.key(path)
	req := &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}
	s.applySseC(func(alg, k, digest *string) {
		req.SSECustomerAlgorithm = alg
		req.SSECustomerKey = k
		req.SSECustomerKeyMD5 = digest
	})

	resp, err := s.client.HeadObjectWithContext(ctx, req)
	if err != nil {
		return Attributes{}, mapAwsErrorToErrno(err, path)
	}

	attrs := Attributes{
		Size:  aws.Int64Value(resp.ContentLength),
		Mtime: aws.TimeValue(resp.LastModified),
		ETag:  aws.StringValue(resp.ETag),
	}
	if resp.Metadata != nil {
		attrs.Header = make(map[string]string, len(resp.Metadata))
		for k, v := range resp.Metadata {
			attrs.Header[strings.ToLower(k)] = aws.StringValue(v)
		}
	}
	return attrs, nil
}

// Download implements Backend.Download via a ranged s3.GetObject,
// mirroring the teacher's GetBlob.
func (s *S3Backend) Download(ctx context.Context, path Path, r Range) (io.ReadCloser, error) {
	key := s.key(path)
	req := &s3.GetObjectInput{Bucket: &s.bucket, Key: &key}
	if r.Size > 0 {
		req.Range = aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.Start+r.Size-1))
	}
	s.applySseC(func(alg, k, digest *string) {
		req.SSECustomerAlgorithm = alg
		req.SSECustomerKey = k
		req.SSECustomerKeyMD5 = digest
	})

	resp, err := s.client.GetObjectWithContext(ctx, req)
	if err != nil {
		return nil, mapAwsErrorToErrno(err, path)
	}
	return resp.Body, nil
}

// Put implements Backend.Put via a single s3.PutObject, mirroring
// PutBlob/put_object: Engine.Flush uses it for a file that has no
// multipart session and whose size does not exceed the minimum part
// size, so no multipart session is ever opened for it.
func (s *S3Backend) Put(ctx context.Context, path Path, headers map[string]string, src *os.File, size int64) (string, error) {
	key := s.key(path)
	body := io.NewSectionReader(src, 0, size)
	req := &s3.PutObjectInput{
		Bucket:       &s.bucket,
		Key:          &key,
		Body:         body,
		StorageClass: aws.String(s.cfg.StorageClass),
	}
	if s.cfg.ACL != "" {
		req.ACL = aws.String(s.cfg.ACL)
	}
	if len(headers) > 0 {
		req.Metadata = make(map[string]*string, len(headers))
		for k, v := range headers {
			v := v
			req.Metadata[strings.ToLower(k)] = &v
		}
	}
	if s.cfg.UseSSE {
		req.ServerSideEncryption = aws.String(s3.ServerSideEncryptionAes256)
		if s.cfg.UseKMS && s.cfg.KMSKeyID != "" {
			req.ServerSideEncryption = aws.String(s3.ServerSideEncryptionAwsKms)
			req.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	} else {
		s.applySseC(func(alg, k, digest *string) {
			req.SSECustomerAlgorithm = alg
			req.SSECustomerKey = k
			req.SSECustomerKeyMD5 = digest
		})
	}

	resp, err := s.client.PutObjectWithContext(ctx, req)
	if err != nil {
		return "", mapAwsErrorToErrno(err, path)
	}
	return aws.StringValue(resp.ETag), nil
}

// Initiate implements Backend.Initiate via s3.CreateMultipartUpload,
// mirroring MultipartBlobBegin.
func (s *S3Backend) Initiate(ctx context.Context, path Path, headers map[string]string) (string, error) {
	key := s.key(path)
	req := &s3.CreateMultipartUploadInput{
		Bucket:       &s.bucket,
		Key:          &key,
		StorageClass: aws.String(s.cfg.StorageClass),
	}
	if s.cfg.ACL != "" {
		req.ACL = aws.String(s.cfg.ACL)
	}
	if s.cfg.UseSSE {
		req.ServerSideEncryption = aws.String(s3.ServerSideEncryptionAes256)
		if s.cfg.UseKMS && s.cfg.KMSKeyID != "" {
			req.ServerSideEncryption = aws.String(s3.ServerSideEncryptionAwsKms)
			req.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	} else {
		s.applySseC(func(alg, k, digest *string) {
			req.SSECustomerAlgorithm = alg
			req.SSECustomerKey = k
			req.SSECustomerKeyMD5 = digest
		})
	}
	if len(headers) > 0 {
		req.Metadata = make(map[string]*string, len(headers))
		for k, v := range headers {
			v := v
			req.Metadata[strings.ToLower(k)] = &v
		}
	}

	resp, err := s.client.CreateMultipartUploadWithContext(ctx, req)
	if err != nil {
		return "", mapAwsErrorToErrno(err, path)
	}
	return aws.StringValue(resp.UploadId), nil
}

// UploadPart implements Backend.UploadPart via s3.UploadPart, reading
// size bytes starting at start from src, mirroring MultipartBlobAdd.
func (s *S3Backend) UploadPart(ctx context.Context, path Path, uploadID string, partNum int, src *os.File, start, size int64) (string, error) {
	key := s.key(path)
	body := io.NewSectionReader(src, start, size)
	req := &s3.UploadPartInput{
		Bucket:     &s.bucket,
		Key:        &key,
		PartNumber: aws.Int64(int64(partNum)),
		UploadId:   &uploadID,
		Body:       body,
	}
	s.applySseC(func(alg, k, digest *string) {
		req.SSECustomerAlgorithm = alg
		req.SSECustomerKey = k
		req.SSECustomerKeyMD5 = digest
	})

	resp, err := s.client.UploadPartWithContext(ctx, req)
	if err != nil {
		return "", mapAwsErrorToErrno(err, path)
	}
	return aws.StringValue(resp.ETag), nil
}

// CopyPart implements Backend.CopyPart via s3.UploadPartCopy with a
// byte-range CopySourceRange, mirroring MultipartBlobCopy.
func (s *S3Backend) CopyPart(ctx context.Context, path Path, uploadID string, partNum int, sourcePath Path, r Range) (string, error) {
	key := s.key(path)
	copySource := pathEscape(s.bucket + "/" + s.key(sourcePath))
	req := &s3.UploadPartCopyInput{
		Bucket:     &s.bucket,
		Key:        &key,
		PartNumber: aws.Int64(int64(partNum)),
		CopySource: aws.String(copySource),
		UploadId:   &uploadID,
	}
	if r.Size > 0 {
		req.CopySourceRange = aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.Start+r.Size-1))
	}
	s.applySseC(func(alg, k, digest *string) {
		req.SSECustomerAlgorithm = alg
		req.SSECustomerKey = k
		req.SSECustomerKeyMD5 = digest
	})

	resp, err := s.client.UploadPartCopyWithContext(ctx, req)
	if err != nil {
		return "", mapAwsErrorToErrno(err, path)
	}
	if resp.CopyPartResult == nil {
		return "", ErrIO("copy part %d of %s: empty result", partNum, path)
	}
	return aws.StringValue(resp.CopyPartResult.ETag), nil
}

// Complete implements Backend.Complete via s3.CompleteMultipartUpload,
// mirroring MultipartBlobCommit.
func (s *S3Backend) Complete(ctx context.Context, path Path, uploadID string, etags []PartETag) error {
	key := s.key(path)
	parts := make([]*s3.CompletedPart, 0, len(etags))
	for _, e := range etags {
		etag := e.ETag
		parts = append(parts, &s3.CompletedPart{
			ETag:       &etag,
			PartNumber: aws.Int64(int64(e.PartNum)),
		})
	}

	req := &s3.CompleteMultipartUploadInput{
		Bucket:   &s.bucket,
		Key:      &key,
		UploadId: &uploadID,
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: parts,
		},
	}
	_, err := s.client.CompleteMultipartUploadWithContext(ctx, req)
	if err != nil {
		return mapAwsErrorToErrno(err, path)
	}
	return nil
}

// Abort implements Backend.Abort via s3.AbortMultipartUpload, mirroring
// MultipartBlobAbort.
func (s *S3Backend) Abort(ctx context.Context, path Path, uploadID string) error {
	key := s.key(path)
	req := &s3.AbortMultipartUploadInput{
		Bucket:   &s.bucket,
		Key:      &key,
		UploadId: &uploadID,
	}
	_, err := s.client.AbortMultipartUploadWithContext(ctx, req)
	if err != nil {
		return mapAwsErrorToErrno(err, path)
	}
	return nil
}

// ListMultipartUploads implements Backend.ListMultipartUploads via
// s3.ListMultipartUploads, mirroring the listing half of MultipartExpire
// (the age-based abort decision itself lives in Engine.Recover).
func (s *S3Backend) ListMultipartUploads(ctx context.Context) ([]MultipartUploadInfo, error) {
	req := &s3.ListMultipartUploadsInput{Bucket: &s.bucket}
	resp, err := s.client.ListMultipartUploadsWithContext(ctx, req)
	if err != nil {
		return nil, mapAwsErrorToErrno(err, "")
	}

	infos := make([]MultipartUploadInfo, 0, len(resp.Uploads))
	for _, u := range resp.Uploads {
		infos = append(infos, MultipartUploadInfo{
			Path:      Path("/" + aws.StringValue(u.Key)),
			UploadID:  aws.StringValue(u.UploadId),
			Initiated: aws.TimeValue(u.Initiated),
		})
	}
	return infos, nil
}

func (s *S3Backend) applySseC(set func(alg, key, digest *string)) {
	if s.cfg.SseC == "" {
		return
	}
	key, err := base64.StdEncoding.DecodeString(s.cfg.SseC)
	if err != nil {
		s3log.Warnf("sse-c key is not base64-encoded, ignoring")
		return
	}
	digest := md5.Sum(key)
	digestStr := base64.StdEncoding.EncodeToString(digest[:])
	keyStr := string(key)
	set(aws.String("AES256"), &keyStr, &digestStr)
}

// pathEscape percent-encodes path the way S3's CopySource header needs,
// preserving '/' the way url.PathEscape in pre-1.8 Go did not.
// Grounded on goofys.go's pathEscape.
func pathEscape(path string) string {
	u := url.URL{Path: path}
	return u.EscapedPath()
}

// mapAwsErrorToErrno translates an aws-sdk-go error into the CORE's
// Errno taxonomy, grounded on goofys.go's mapAwsError/mapHttpError.
func mapAwsErrorToErrno(err error, path Path) error {
	if err == nil {
		return nil
	}
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case "NoSuchKey", "NoSuchUpload", "NotFound":
			return ErrNotFound("%s: %v", path, awsErr.Message())
		case "RequestTimeout", "RequestTimeTooSkewed", "SlowDown", "ServiceUnavailable", "Throttling":
			return ErrTransient("%s: %v", path, awsErr.Message())
		}
		if reqErr, ok := err.(awserr.RequestFailure); ok {
			switch reqErr.StatusCode() {
			case 404:
				return ErrNotFound("%s: %v", path, reqErr.Message())
			case 409, 429, 500, 502, 503, 504:
				return ErrTransient("%s: %v", path, reqErr.Message())
			}
		}
		return ErrIO("%s: %v", path, awsErr.Message())
	}
	return ErrIO("%s: %v", path, err)
}
