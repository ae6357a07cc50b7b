// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package dsconfig is the in-memory model of a dataset configuration: the
// tree of pages, groups, collections, descriptions and options that maps
// warehouse tables and columns onto a query model.
//
// # Structure
//
// Every element is a *Node whose Kind selects which fields matter and which
// child kinds it may own:
//
//	dataset -> filterPage | attributePage | defaultFilter
//	page    -> group | federatedGroup
//	group   -> collection
//	collection -> filter | attribute
//	filter | attribute -> option | enable | disable
//	option  -> option | pushAction
//	pushAction -> option
//
// Children keep insertion order. Internal names are unique among siblings
// of the same kind; AddChild rejects duplicates with ErrNameCollision.
// Cross references (Ref, dotted names) are plain strings resolved by lookup.
//
// # Identity
//
// Equal and Hash are structural. Two trees built in different orders but
// holding the same attributes and children compare equal.
//
// # Lazy roots
//
// NewLazyRoot returns a root with identity only. The first structural
// accessor loads it through its Loader exactly once. Use EnsureLoaded to
// observe the load error.
package dsconfig
