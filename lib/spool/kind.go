// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import "strings"

// Kind is a canonical filament kind name.
type Kind string

// The canonical kinds. Their order defines the on-tag type code: the
// code of a kind is its index in [Kinds].
const (
	KindPLABasic  Kind = "PLA Basic"
	KindPLA       Kind = "PLA"
	KindPETGBasic Kind = "PETG Basic"
	KindPETG      Kind = "PETG"
	KindABS       Kind = "ABS"
	KindTPU       Kind = "TPU"
	KindPLACF     Kind = "PLA-CF"
	KindPACF      Kind = "PA-CF"
	KindPETCF     Kind = "PET-CF"
	KindASA       Kind = "ASA"
	KindPC        Kind = "PC"
	KindPA        Kind = "PA"
	KindSupport   Kind = "Support"
	KindPVA       Kind = "PVA"
	KindHIPS      Kind = "HIPS"
)

var kinds = [...]Kind{
	KindPLABasic, KindPLA, KindPETGBasic, KindPETG, KindABS,
	KindTPU, KindPLACF, KindPACF, KindPETCF, KindASA,
	KindPC, KindPA, KindSupport, KindPVA, KindHIPS,
}

// kindsByKey maps the folded spelling of every kind to the kind.
var kindsByKey = func() map[string]Kind {
	index := make(map[string]Kind, len(kinds))
	for _, kind := range kinds {
		index[foldKind(string(kind))] = kind
	}
	return index
}()

// Kinds returns the canonical kinds in type-code order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds[:]...)
}

// foldKind reduces a spelling to upper case with spaces, dashes, and
// underscores removed, so "pla-cf", "PLA CF", and "Pla_Cf" compare
// equal.
func foldKind(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(name)))
}

// ParseKind matches name against the canonical kinds, ignoring case
// and separators.
func ParseKind(name string) (Kind, bool) {
	kind, ok := kindsByKey[foldKind(name)]
	return kind, ok
}

// KindForCode returns the kind stored under an on-tag type code.
func KindForCode(code uint16) (Kind, bool) {
	if int(code) >= len(kinds) {
		return "", false
	}
	return kinds[code], true
}

// Code returns the on-tag type code of a canonical kind.
func (k Kind) Code() (uint16, bool) {
	for index, kind := range kinds {
		if kind == k {
			return uint16(index), true
		}
	}
	return 0, false
}

// Valid reports whether k is one of the canonical kinds.
func (k Kind) Valid() bool {
	_, ok := k.Code()
	return ok
}

// Family groups related kinds for temperature plausibility checks:
// "PLA Basic" and "PLA-CF" belong to the PLA family. Kinds without a
// family return "".
func (k Kind) Family() Kind {
	switch k {
	case KindPLA, KindPLABasic, KindPLACF:
		return KindPLA
	case KindPETG, KindPETGBasic:
		return KindPETG
	case KindABS:
		return KindABS
	case KindTPU:
		return KindTPU
	}
	return ""
}
