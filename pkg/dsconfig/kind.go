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

package dsconfig

import "fmt"

// Kind is the discriminant of a Node.
type Kind uint8

const (
	KindDataset Kind = iota
	KindFilterPage
	KindAttributePage
	KindGroup
	KindFederatedGroup
	KindCollection
	KindFilter
	KindAttribute
	KindOption
	KindPushAction
	KindEnable
	KindDisable
	KindDefaultFilter
)

var kindNames = [...]string{
	KindDataset:        "dataset",
	KindFilterPage:     "filterPage",
	KindAttributePage:  "attributePage",
	KindGroup:          "group",
	KindFederatedGroup: "federatedGroup",
	KindCollection:     "collection",
	KindFilter:         "filter",
	KindAttribute:      "attribute",
	KindOption:         "option",
	KindPushAction:     "pushAction",
	KindEnable:         "enable",
	KindDisable:        "disable",
	KindDefaultFilter:  "defaultFilter",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// IsDescription reports whether k is one of the two Description kinds.
func (k Kind) IsDescription() bool {
	return k == KindFilter || k == KindAttribute
}

// IsPage reports whether k is one of the two Page kinds.
func (k Kind) IsPage() bool {
	return k == KindFilterPage || k == KindAttributePage
}

// Accepts reports whether a node of kind k may own a child of kind child.
func (k Kind) Accepts(child Kind) bool {
	switch k {
	case KindDataset:
		return child.IsPage() || child == KindDefaultFilter
	case KindFilterPage, KindAttributePage:
		return child == KindGroup || child == KindFederatedGroup
	case KindGroup:
		return child == KindCollection
	case KindCollection:
		return child.IsDescription()
	case KindFilter, KindAttribute:
		return child == KindOption || child == KindEnable || child == KindDisable
	case KindOption:
		return child == KindOption || child == KindPushAction
	case KindPushAction:
		return child == KindOption
	default:
		return false
	}
}
