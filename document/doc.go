// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package document keeps the renderer child's open documents and turns
// their pages into spooled images.
//
// A [HandleCache] maps small integer document ids onto handles of an
// [Engine], the native document library the child hosts. Each id moves
// Closed → Open → Closed: [HandleCache.Open] enters Open,
// [HandleCache.Close] leaves it, and [HandleCache.CloseAll] closes
// whatever is left when the child shuts down. A document the engine
// reports as having no pages never enters Open.
//
// Rendering never touches an output device. [HandleCache.RenderPage]
// records the engine's drawing into a [spool.Image] sized to the
// requested device area, scaled down (never up) so the page fits.
//
// The cache is meant for the coordinating context, which owns the
// engine; it locks only to keep its own map consistent.
package document
