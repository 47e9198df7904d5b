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
	"errors"

	"github.com/aws/aws-sdk-go/aws/awserr"
	. "gopkg.in/check.v1"
)

type BackendS3Test struct{}

var _ = Suite(&BackendS3Test{})

func (s *BackendS3Test) TestMapAwsErrorNotFound(t *C) {
	err := mapAwsErrorToErrno(awserr.New("NoSuchKey", "not found", nil), Path("/a/b"))
	t.Assert(IsNotFound(err), Equals, true)
}

func (s *BackendS3Test) TestMapAwsErrorTransient(t *C) {
	err := mapAwsErrorToErrno(awserr.New("SlowDown", "slow down", nil), Path("/a/b"))
	e, ok := err.(*Errno)
	t.Assert(ok, Equals, true)
	t.Assert(e.Kind, Equals, KindTransient)
}

func (s *BackendS3Test) TestMapAwsErrorGenericIO(t *C) {
	err := mapAwsErrorToErrno(awserr.New("InternalError", "boom", nil), Path("/a/b"))
	e, ok := err.(*Errno)
	t.Assert(ok, Equals, true)
	t.Assert(e.Kind, Equals, KindIO)
}

func (s *BackendS3Test) TestMapAwsErrorNonAws(t *C) {
	err := mapAwsErrorToErrno(errors.New("plain"), Path("/a/b"))
	e, ok := err.(*Errno)
	t.Assert(ok, Equals, true)
	t.Assert(e.Kind, Equals, KindIO)
}

func (s *BackendS3Test) TestMapAwsErrorNil(t *C) {
	t.Assert(mapAwsErrorToErrno(nil, Path("/a")), IsNil)
}

func (s *BackendS3Test) TestPathEscapePreservesSlashes(t *C) {
	t.Assert(pathEscape("bucket/dir with space/file"), Equals, "bucket/dir%20with%20space/file")
}

func (s *BackendS3Test) TestBackendKeyStripsLeadingSlash(t *C) {
	b := &S3Backend{}
	t.Assert(b.key(Path("/dir/file.txt")), Equals, "dir/file.txt")
}
