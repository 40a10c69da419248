// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPage is returned when a command is recorded outside
	// BeginPage/EndPage.
	ErrNoPage = errors.New("spool: no page open")

	// ErrPageOpen is returned by BeginPage while a page is open and by
	// Save before the open page is ended.
	ErrPageOpen = errors.New("spool: page already open")

	// ErrCorrupt is returned by Load for a file that is truncated, has
	// the wrong magic, or fails its digest.
	ErrCorrupt = errors.New("spool: corrupt spool file")
)

// Page is one recorded page: its size in device units and its
// commands in drawing order.
type Page struct {
	Width    float64   `cbor:"width"`
	Height   float64   `cbor:"height"`
	Commands []Command `cbor:"commands"`
}

// Image is an ordered list of recorded pages. It is not safe for
// concurrent use.
type Image struct {
	pages []Page
	open  bool
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{}
}

// BeginPage opens a page of width×height device units.
func (i *Image) BeginPage(width, height float64) error {
	if i.open {
		return ErrPageOpen
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("spool: page size must be positive, got %gx%g", width, height)
	}
	i.pages = append(i.pages, Page{Width: width, Height: height})
	i.open = true
	return nil
}

// EndPage closes the open page.
func (i *Image) EndPage() error {
	if !i.open {
		return ErrNoPage
	}
	i.open = false
	return nil
}

// Record appends command to the open page.
func (i *Image) Record(command Command) error {
	if !i.open {
		return ErrNoPage
	}
	if err := command.Validate(); err != nil {
		return err
	}
	page := &i.pages[len(i.pages)-1]
	page.Commands = append(page.Commands, command)
	return nil
}

// Pages returns the recorded pages. The slice is shared with the
// image.
func (i *Image) Pages() []Page {
	return i.pages
}

// Replay draws every page onto device in order.
func (i *Image) Replay(device Device) error {
	for index, page := range i.pages {
		if err := device.BeginPage(page.Width, page.Height); err != nil {
			return fmt.Errorf("page %d: %w", index, err)
		}
		for commandIndex, command := range page.Commands {
			if err := device.Execute(command); err != nil {
				return fmt.Errorf("page %d command %d (%s): %w", index, commandIndex, command.Op, err)
			}
		}
		if err := device.EndPage(); err != nil {
			return fmt.Errorf("page %d: %w", index, err)
		}
	}
	return nil
}
