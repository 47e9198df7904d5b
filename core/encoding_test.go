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
	. "gopkg.in/check.v1"
)

type EncodingTest struct{}

var _ = Suite(&EncodingTest{})

func (s *EncodingTest) TestURLEncodeDecodeRoundTrip(t *C) {
	const ascii = "some/path with spaces/and-._~chars!@#$"
	t.Assert(DecodeURLPath(EncodeURLPath(ascii)), Equals, ascii)

	raw := string([]byte{0, 1, 2, 250, 251, '%', '/', 'a'})
	t.Assert(DecodeURLPath(EncodeURLPath(raw)), Equals, raw)
}

func (s *EncodingTest) TestURLEncodeQueryPreservesReservedChars(t *C) {
	t.Assert(EncodeURLQuery("a=b&c%3d"), Equals, "a=b&c%3d")
}

func (s *EncodingTest) TestWTF8EncodeDecodeRoundTrip(t *C) {
	valid := "héllo wörld 日本語"
	t.Assert(DecodeWTF8(EncodeWTF8(valid)), Equals, valid)
	t.Assert(DecodeWTF8(valid), Equals, valid)

	invalid := "bad\xffname\x80here"
	encoded := EncodeWTF8(invalid)
	t.Assert(DecodeWTF8(encoded), Equals, invalid)
}

func (s *EncodingTest) TestWTF8EncodeIsIdentityOnASCII(t *C) {
	t.Assert(EncodeWTF8("plain ascii text"), Equals, "plain ascii text")
}

func (s *EncodingTest) TestCREncodeDecodeRoundTrip(t *C) {
	raw := "line1\rline2%done"
	t.Assert(DecodeCR(EncodeCR(raw)), Equals, raw)
}

func (s *EncodingTest) TestCREncodeEscapesPercentAndCR(t *C) {
	t.Assert(EncodeCR("100%\rdone"), Equals, "100%45%0Ddone")
}
