// Copyright 2007 Randy Rizun
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
	"strings"
)

// EncodeURLPath percent-encodes s for use as a request path component,
// leaving '/' untouched so a multi-segment path encodes segment by
// segment in one pass. Ported from original_source/src/string_util.cpp's
// urlEncodePath/rawUrlEncode (except_chars ".-_~/").
func EncodeURLPath(s string) string {
	return rawURLEncode(s, ".-_~/")
}

// EncodeURLQuery percent-encodes s for use inside a query string that
// may already contain percent-encoded substrings: '=', '&', and '%'
// are left alone in addition to the general exception set. Ported from
// urlEncodeQuery.
func EncodeURLQuery(s string) string {
	return rawURLEncode(s, ".-_~=&%")
}

const hexUpper = "0123456789ABCDEF"

func rawURLEncode(s, exceptChars string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(exceptChars, c) >= 0 ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexUpper[c>>4])
		b.WriteByte(hexUpper[c&0x0f])
	}
	return b.String()
}

// DecodeURLPath reverses EncodeURLPath/EncodeURLQuery. A malformed
// trailing "%" or "%X" with fewer than two hex digits is truncated at
// that point, matching urlDecode's "wrong format" early break.
func DecodeURLPath(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			break
		}
		hi := hexVal(s[i+1])
		lo := hexVal(s[i+2])
		b.WriteByte(byte(hi<<4) | byte(lo))
		i += 2
	}
	return b.String()
}

// hexVal maps a hex digit to its value, and any other character to 0,
// matching urlDecode's ternary fallback (invalid digits contribute
// nothing rather than aborting the decode).
func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 0x0a
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 0x0a
	default:
		return 0
	}
}

// wtf8EscapeBase is the private-use codepoint range s3fs borrows to
// round-trip bytes that are not valid UTF-8 (e.g. filenames written by
// a Windows client using cp1252).
const wtf8EscapeBase = 0xe000

// EncodeWTF8 passes valid UTF-8 through unchanged and rewrites any
// invalid byte into a 3-byte private-use-area codepoint, so every
// result is valid UTF-8 regardless of input and the store's UTF-8
// validation never rejects it. Ported from
// original_source/src/string_util.cpp's s3fs_wtf8_encode.
func EncodeWTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		if c <= 0x7f {
			b.WriteByte(c)
			i++
			continue
		}
		if n, ok := validUTF8Run(s, i); ok {
			b.WriteString(s[i : i+n])
			i += n
			continue
		}
		escape := wtf8EscapeBase + uint32(c)
		b.WriteByte(byte(0xe0 | ((escape >> 12) & 0x0f)))
		b.WriteByte(byte(0x80 | ((escape >> 6) & 0x3f)))
		b.WriteByte(byte(0x80 | (escape & 0x3f)))
		i++
	}
	return b.String()
}

// validUTF8Run reports the byte length (2, 3, or 4) of a well-formed,
// non-overlong, non-surrogate UTF-8 sequence starting at s[i], mirroring
// the three explicit encoding-length checks in s3fs_wtf8_encode.
func validUTF8Run(s string, i int) (int, bool) {
	c := s[i]
	if c < 0xc2 || c > 0xf5 {
		return 0, false
	}
	if c&0xe0 == 0xc0 && i+1 < len(s) && s[i+1]&0xc0 == 0x80 {
		return 2, true
	}
	if c&0xf0 == 0xe0 && i+2 < len(s) && s[i+1]&0xc0 == 0x80 && s[i+2]&0xc0 == 0x80 {
		code := uint32(c&0x0f)<<12 | uint32(s[i+1]&0x3f)<<6 | uint32(s[i+2]&0x3f)
		if code >= 0x800 && !(code >= 0xd800 && code <= 0xdfff) {
			return 3, true
		}
		return 0, false
	}
	if c&0xf8 == 0xf0 && i+3 < len(s) && s[i+1]&0xc0 == 0x80 && s[i+2]&0xc0 == 0x80 && s[i+3]&0xc0 == 0x80 {
		code := uint32(c&0x07)<<18 | uint32(s[i+1]&0x3f)<<12 | uint32(s[i+2]&0x3f)<<6 | uint32(s[i+3]&0x3f)
		if code >= 0x10000 && code <= 0x10ffff {
			return 4, true
		}
		return 0, false
	}
	return 0, false
}

// DecodeWTF8 reverses EncodeWTF8: any 3-byte sequence decoding to a
// codepoint in the private-use escape range is turned back into the
// single raw byte it represents. Ported from s3fs_wtf8_decode.
func DecodeWTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		if c&0xf0 == 0xe0 && i+2 < len(s) && s[i+1]&0xc0 == 0x80 && s[i+2]&0xc0 == 0x80 {
			code := uint32(c&0x0f)<<12 | uint32(s[i+1]&0x3f)<<6 | uint32(s[i+2]&0x3f)
			if code >= wtf8EscapeBase && code <= wtf8EscapeBase+0xff {
				b.WriteByte(byte(code - wtf8EscapeBase))
				i += 3
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// EncodeCR escapes '\r' and '%' with the same %XX convention as a URL
// encoder so an XML parser's automatic CR->LF substitution (required by
// the XML spec) cannot alter a path name carried inside an XML response
// body. Ported from get_encoded_cr_code.
func EncodeCR(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			b.WriteString("%45")
		case '\r':
			b.WriteString("%0D")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// DecodeCR reverses EncodeCR. A bare '%' not followed by one of "45",
// "0D", or "%" passes through unchanged, matching get_decoded_cr_code's
// fallback branch.
func DecodeCR(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		switch {
		case i+2 < len(s) && s[i+1:i+3] == "45":
			b.WriteByte('%')
			i += 2
		case i+2 < len(s) && s[i+1:i+3] == "0D":
			b.WriteByte('\r')
			i += 2
		case i+1 < len(s) && s[i+1] == '%':
			b.WriteByte('%')
			i++
		default:
			b.WriteByte('%')
		}
	}
	return b.String()
}
