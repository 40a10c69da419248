// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/renderhost/lib/codec"
)

const (
	magic      = "RHSPOOL1"
	digestSize = 32
	headerSize = len(magic) + 1 + 8 + digestSize

	// MaxPayloadSize bounds the uncompressed command stream Load will
	// accept.
	MaxPayloadSize = 256 << 20
)

// digestKey keys the payload digest so that a spool file is never
// mistaken for any other BLAKE3-hashed blob.
var digestKey = blake3.Sum256([]byte("renderhost.spool"))

func digest(payload []byte) []byte {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("spool: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	return hasher.Sum(nil)
}

// Encode returns the spool file bytes for the image. An
// incompressible payload is stored with CompressionNone regardless of
// tag.
func (i *Image) Encode(tag CompressionTag) ([]byte, error) {
	if i.open {
		return nil, ErrPageOpen
	}
	payload, err := codec.Marshal(i.pages)
	if err != nil {
		return nil, fmt.Errorf("encoding spool pages: %w", err)
	}

	compressed, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		compressed, tag = payload, CompressionNone
	} else if err != nil {
		return nil, err
	}

	output := make([]byte, headerSize, headerSize+len(compressed))
	copy(output, magic)
	output[len(magic)] = byte(tag)
	binary.BigEndian.PutUint64(output[len(magic)+1:], uint64(len(payload)))
	copy(output[len(magic)+9:], digest(payload))
	return append(output, compressed...), nil
}

// Save writes the image to path atomically: the file appears complete
// or not at all.
func (i *Image) Save(path string, tag CompressionTag) error {
	data, err := i.Encode(tag)
	if err != nil {
		return err
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return fmt.Errorf("writing spool file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("writing spool file: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("publishing spool file: %w", err)
	}
	return nil
}

// Decode parses spool file bytes.
func Decode(data []byte) (*Image, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	tag := CompressionTag(data[len(magic)])
	size := binary.BigEndian.Uint64(data[len(magic)+1:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrCorrupt, size)
	}
	expected := data[len(magic)+9 : headerSize]

	payload, err := decompress(data[headerSize:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if !bytes.Equal(digest(payload), expected) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	var pages []Page
	if err := codec.Unmarshal(payload, &pages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	for pageIndex, page := range pages {
		for commandIndex, command := range page.Commands {
			if err := command.Validate(); err != nil {
				return nil, fmt.Errorf("%w: page %d command %d: %w", ErrCorrupt, pageIndex, commandIndex, err)
			}
		}
	}
	return &Image{pages: pages}, nil
}

// Load reads a spool file written by Save.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spool file: %w", err)
	}
	image, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return image, nil
}
