// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/juju/errors"
)

// maxChunk bounds allocations made ahead of reading.
const maxChunk = 1 << 16

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream. Memory grows with the data
// actually read, so a corrupt length fails with io.ErrUnexpectedEOF.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 {
		return nil, errors.Errorf("invalid length %d", length)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, min(int(length), maxChunk)))
	n, err := io.CopyN(buffer, r, int64(length))
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Annotatef(err, "read %d of %d bytes", n, length)
	}
	return buffer.Bytes(), nil
}

// WriteSlice writes a length-prefixed slice of fixed-size numbers to byte stream.
func WriteSlice[T int32 | float32](w io.Writer, a []T) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(a))); err != nil {
		return errors.Trace(err)
	}
	if len(a) == 0 {
		return nil
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, a))
}

// ReadSlice reads a length-prefixed slice written by WriteSlice. The slice
// is read in chunks, so a corrupt length fails with io.ErrUnexpectedEOF.
func ReadSlice[T int32 | float32](r io.Reader) ([]T, error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 {
		return nil, errors.Errorf("invalid length %d", length)
	}
	a := make([]T, 0, min(int(length), maxChunk))
	for len(a) < int(length) {
		chunk := make([]T, min(int(length)-len(a), maxChunk))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Annotatef(err, "read %d of %d elements", len(a), length)
		}
		a = append(a, chunk...)
	}
	return a, nil
}
