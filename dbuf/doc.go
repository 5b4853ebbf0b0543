// Copyright 2025 The dbufcache Authors
// This file is part of the dbufcache library.
//
// The dbufcache library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The dbufcache library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dbufcache library. If not, see <http://www.gnu.org/licenses/>.

// Package dbuf implements a transactional block-buffer cache that mediates
// between an in-memory object/block namespace and a content-addressed block
// store backed by an adaptive cache. It serves foreground readers and
// writers against an open transaction group (TXG) while a syncer drains
// older, closed TXGs to storage, and preserves per-TXG snapshots of a block
// so that no TXG's view is corrupted by another TXG's mutations.
package dbuf
